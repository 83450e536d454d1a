// Package catalog ships the built-in control catalog: a static snapshot of
// each supported framework's control set. It implements ports.ControlCatalog;
// swapping in a database- or registry-backed catalog only means providing
// another implementation of that interface.
package catalog

import (
	"context"
	"sort"

	"github.com/adverant/nexus-compliance/internal/assessment/ports"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
)

// Static serves frameworks and controls from the compiled-in tables below.
type Static struct{}

func NewStatic() *Static {
	return &Static{}
}

var frameworks = map[id.FrameworkID]ports.Framework{
	"iso27001": {ID: "iso27001", Name: "ISO/IEC 27001", Version: "2022", Active: true, Module: "iso27001"},
	"gdpr":     {ID: "gdpr", Name: "General Data Protection Regulation", Version: "2016/679", Active: true, Module: "gdpr"},
	"aiAct":    {ID: "aiAct", Name: "EU AI Act", Version: "2024/1689", Active: true, Module: "aiAct"},
	"nis2":     {ID: "nis2", Name: "NIS 2 Directive", Version: "2022/2555", Active: true, Module: "nis2"},
	"soc2":     {ID: "soc2", Name: "SOC 2", Version: "2017 TSC", Active: true, Module: "soc2"},
	"hipaa":    {ID: "hipaa", Name: "HIPAA Security Rule", Version: "2013", Active: true, Module: "hipaa"},
}

// controls holds each framework's catalog in declaration order; that order
// breaks priority ties deterministically.
var controls = map[id.FrameworkID][]ports.Control{
	"iso27001": {
		{ID: "A.5.1", Domain: "organizational", Title: "Policies for information security", ImplementationPriority: 95, RiskCategory: "governance", EvidenceRequirements: []string{"policy document", "approval record"}},
		{ID: "A.5.23", Domain: "organizational", Title: "Information security for use of cloud services", ImplementationPriority: 70, RiskCategory: "supplier", EvidenceRequirements: []string{"cloud service register"}},
		{ID: "A.6.3", Domain: "people", Title: "Information security awareness and training", ImplementationPriority: 60, RiskCategory: "people", EvidenceRequirements: []string{"training records"}},
		{ID: "A.8.2", Domain: "technological", Title: "Privileged access rights", ImplementationPriority: 90, RiskCategory: "access", EvidenceRequirements: []string{"access review", "privileged account inventory"}},
		{ID: "A.8.12", Domain: "technological", Title: "Data leakage prevention", ImplementationPriority: 75, RiskCategory: "data", EvidenceRequirements: []string{"dlp configuration"}},
		{ID: "A.8.24", Domain: "technological", Title: "Use of cryptography", ImplementationPriority: 85, RiskCategory: "data", EvidenceRequirements: []string{"key management policy"}},
	},
	"gdpr": {
		{ID: "Art.5", Domain: "principles", Title: "Principles relating to processing", ImplementationPriority: 95, RiskCategory: "lawfulness", EvidenceRequirements: []string{"processing register"}},
		{ID: "Art.6", Domain: "principles", Title: "Lawfulness of processing", ImplementationPriority: 90, RiskCategory: "lawfulness", EvidenceRequirements: []string{"legal basis assessment"}},
		{ID: "Art.17", Domain: "rights", Title: "Right to erasure", ImplementationPriority: 80, RiskCategory: "rights", EvidenceRequirements: []string{"erasure workflow", "erasure log"}},
		{ID: "Art.30", Domain: "accountability", Title: "Records of processing activities", ImplementationPriority: 75, RiskCategory: "accountability", EvidenceRequirements: []string{"ropa"}},
		{ID: "Art.32", Domain: "security", Title: "Security of processing", ImplementationPriority: 85, RiskCategory: "security", EvidenceRequirements: []string{"security measures"}},
		{ID: "Art.33", Domain: "security", Title: "Breach notification to authority", ImplementationPriority: 85, RiskCategory: "incident", EvidenceRequirements: []string{"breach procedure"}},
		{ID: "Art.35", Domain: "accountability", Title: "Data protection impact assessment", ImplementationPriority: 70, RiskCategory: "accountability", EvidenceRequirements: []string{"dpia template", "completed dpias"}},
	},
	"aiAct": {
		{ID: "Art.9", Domain: "risk", Title: "Risk management system", ImplementationPriority: 95, RiskCategory: "governance", EvidenceRequirements: []string{"risk management documentation"}},
		{ID: "Art.10", Domain: "data", Title: "Data and data governance", ImplementationPriority: 85, RiskCategory: "data", EvidenceRequirements: []string{"training data documentation"}},
		{ID: "Art.13", Domain: "transparency", Title: "Transparency and provision of information", ImplementationPriority: 75, RiskCategory: "transparency", EvidenceRequirements: []string{"user documentation"}},
		{ID: "Art.14", Domain: "oversight", Title: "Human oversight", ImplementationPriority: 90, RiskCategory: "oversight", EvidenceRequirements: []string{"oversight procedures"}},
		{ID: "Art.15", Domain: "robustness", Title: "Accuracy, robustness and cybersecurity", ImplementationPriority: 80, RiskCategory: "security", EvidenceRequirements: []string{"test reports"}},
	},
	"nis2": {
		{ID: "Art.20", Domain: "governance", Title: "Management body accountability", ImplementationPriority: 90, RiskCategory: "governance", EvidenceRequirements: []string{"board approval records"}},
		{ID: "Art.21", Domain: "risk", Title: "Cybersecurity risk-management measures", ImplementationPriority: 95, RiskCategory: "risk", EvidenceRequirements: []string{"risk treatment plan"}},
		{ID: "Art.23", Domain: "incident", Title: "Incident reporting obligations", ImplementationPriority: 85, RiskCategory: "incident", EvidenceRequirements: []string{"incident response plan", "notification records"}},
	},
	"soc2": {
		{ID: "CC1.1", Domain: "control-environment", Title: "Integrity and ethical values", ImplementationPriority: 80, RiskCategory: "governance", EvidenceRequirements: []string{"code of conduct"}},
		{ID: "CC6.1", Domain: "logical-access", Title: "Logical access security", ImplementationPriority: 90, RiskCategory: "access", EvidenceRequirements: []string{"access control policy"}},
		{ID: "CC7.2", Domain: "operations", Title: "Security incident monitoring", ImplementationPriority: 85, RiskCategory: "incident", EvidenceRequirements: []string{"monitoring configuration"}},
	},
	"hipaa": {
		{ID: "164.308", Domain: "administrative", Title: "Administrative safeguards", ImplementationPriority: 90, RiskCategory: "governance", EvidenceRequirements: []string{"risk analysis"}},
		{ID: "164.312", Domain: "technical", Title: "Technical safeguards", ImplementationPriority: 90, RiskCategory: "access", EvidenceRequirements: []string{"encryption inventory", "audit controls"}},
		{ID: "164.410", Domain: "breach", Title: "Breach notification", ImplementationPriority: 80, RiskCategory: "incident", EvidenceRequirements: []string{"notification procedure"}},
	},
}

func (c *Static) GetFramework(_ context.Context, frameworkID id.FrameworkID) (ports.Framework, error) {
	fw, ok := frameworks[frameworkID]
	if !ok {
		return ports.Framework{}, sentinel.ErrNotFound
	}
	return fw, nil
}

func (c *Static) ListControls(_ context.Context, frameworkID id.FrameworkID, domains []string, excludeIDs []id.ControlID) ([]ports.Control, error) {
	all, ok := controls[frameworkID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	domainSet := make(map[string]bool, len(domains))
	for _, d := range domains {
		domainSet[d] = true
	}
	excluded := make(map[id.ControlID]bool, len(excludeIDs))
	for _, cid := range excludeIDs {
		excluded[cid] = true
	}

	type ordered struct {
		control ports.Control
		pos     int
	}
	selected := make([]ordered, 0, len(all))
	for pos, control := range all {
		if len(domainSet) > 0 && !domainSet[control.Domain] {
			continue
		}
		if excluded[control.ID] {
			continue
		}
		selected = append(selected, ordered{control: control, pos: pos})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].control.ImplementationPriority != selected[j].control.ImplementationPriority {
			return selected[i].control.ImplementationPriority > selected[j].control.ImplementationPriority
		}
		return selected[i].pos < selected[j].pos
	})

	out := make([]ports.Control, len(selected))
	for i, s := range selected {
		out[i] = s.control
	}
	return out, nil
}
