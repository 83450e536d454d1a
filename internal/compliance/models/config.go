// Package models defines the compliance configuration aggregate and its
// audit trail records.
package models

import (
	"time"

	id "github.com/adverant/nexus-compliance/pkg/domain"
)

// ModuleName names a compliance capability group. The set is closed; adding a
// module is a schema change, not a data change.
type ModuleName string

const (
	ModuleGDPR     ModuleName = "gdpr"
	ModuleAIAct    ModuleName = "aiAct"
	ModuleNIS2     ModuleName = "nis2"
	ModuleISO27001 ModuleName = "iso27001"
	ModuleSOC2     ModuleName = "soc2"
	ModuleHIPAA    ModuleName = "hipaa"
)

// AllModules lists every module in stable declaration order.
func AllModules() []ModuleName {
	return []ModuleName{ModuleGDPR, ModuleAIAct, ModuleNIS2, ModuleISO27001, ModuleSOC2, ModuleHIPAA}
}

// moduleFeatures is the closed feature key set per module. A feature name
// outside this map is rejected, never silently stored.
var moduleFeatures = map[ModuleName][]string{
	ModuleGDPR:     {"dataMapping", "consentManagement", "dataErasure", "breachNotification", "dpia"},
	ModuleAIAct:    {"riskClassification", "transparencyObligations", "humanOversight", "conformityAssessment"},
	ModuleNIS2:     {"incidentReporting", "riskManagement", "supplyChainSecurity"},
	ModuleISO27001: {"gapAnalysis", "controlMapping", "auditPrep"},
	ModuleSOC2:     {"trustServices", "evidenceCollection"},
	ModuleHIPAA:    {"phiSafeguards", "breachNotification"},
}

// KnownModule reports whether name is one of the closed module set.
func KnownModule(name ModuleName) bool {
	_, ok := moduleFeatures[name]
	return ok
}

// KnownFeature reports whether feature belongs to module's closed key set.
func KnownFeature(module ModuleName, feature string) bool {
	for _, f := range moduleFeatures[module] {
		if f == feature {
			return true
		}
	}
	return false
}

// ModuleFeatures returns module's feature keys in declaration order.
func ModuleFeatures(module ModuleName) []string {
	return append([]string{}, moduleFeatures[module]...)
}

// ModuleConfig is one module's switch plus its named sub-feature switches.
type ModuleConfig struct {
	Enabled  bool            `json:"enabled"`
	Features map[string]bool `json:"features"`
}

// ComplianceConfig is the per-tenant gating aggregate.
//
// Invariants:
//   - Exactly one config per tenant; created implicitly on first read,
//     never deleted.
//   - Modules always contains every module in the closed set.
//   - A module/feature is active only if master AND module AND feature are
//     enabled; gating is strictly hierarchical, never OR-composed.
type ComplianceConfig struct {
	ID            id.ConfigID                 `json:"id"`
	TenantID      id.TenantID                 `json:"tenant_id"`
	MasterEnabled bool                        `json:"master_enabled"`
	Modules       map[ModuleName]ModuleConfig `json:"modules"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

// DefaultConfig returns the config implicitly created on first read: master
// on, the security/privacy modules enabled with all features on, soc2 and
// hipaa present but disabled.
func DefaultConfig(tenantID id.TenantID, now time.Time) *ComplianceConfig {
	enabledByDefault := map[ModuleName]bool{
		ModuleGDPR:     true,
		ModuleAIAct:    true,
		ModuleNIS2:     true,
		ModuleISO27001: true,
		ModuleSOC2:     false,
		ModuleHIPAA:    false,
	}
	modules := make(map[ModuleName]ModuleConfig, len(moduleFeatures))
	for _, name := range AllModules() {
		enabled := enabledByDefault[name]
		features := make(map[string]bool, len(moduleFeatures[name]))
		for _, f := range moduleFeatures[name] {
			features[f] = enabled
		}
		modules[name] = ModuleConfig{Enabled: enabled, Features: features}
	}
	return &ComplianceConfig{
		ID:            id.NewConfigID(),
		TenantID:      tenantID,
		MasterEnabled: true,
		Modules:       modules,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsEnabled answers the hierarchical gate question. With an empty feature it
// reports the module gate; with a feature it additionally requires that
// feature's flag. Absent features read as false.
func (c *ComplianceConfig) IsEnabled(module ModuleName, feature string) bool {
	if !c.MasterEnabled {
		return false
	}
	mc, ok := c.Modules[module]
	if !ok || !mc.Enabled {
		return false
	}
	if feature == "" {
		return true
	}
	return mc.Features[feature]
}

// Snapshot captures the full gating state for audit before/after records.
type Snapshot struct {
	MasterEnabled bool                        `json:"master_enabled"`
	Modules       map[ModuleName]ModuleConfig `json:"modules"`
}

// Snapshot returns a deep copy of the current gating state.
func (c *ComplianceConfig) Snapshot() Snapshot {
	modules := make(map[ModuleName]ModuleConfig, len(c.Modules))
	for name, mc := range c.Modules {
		features := make(map[string]bool, len(mc.Features))
		for k, v := range mc.Features {
			features[k] = v
		}
		modules[name] = ModuleConfig{Enabled: mc.Enabled, Features: features}
	}
	return Snapshot{MasterEnabled: c.MasterEnabled, Modules: modules}
}

// Clone returns a deep copy so callers can hand configs across goroutines
// without aliasing the feature maps.
func (c *ComplianceConfig) Clone() *ComplianceConfig {
	snap := c.Snapshot()
	clone := *c
	clone.MasterEnabled = snap.MasterEnabled
	clone.Modules = snap.Modules
	return &clone
}
