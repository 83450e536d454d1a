package models

import (
	"time"

	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
)

// FindingStatus classifies one control's outcome.
type FindingStatus string

const (
	FindingCompliant     FindingStatus = "compliant"
	FindingNonCompliant  FindingStatus = "non_compliant"
	FindingPartial       FindingStatus = "partial"
	FindingNotApplicable FindingStatus = "not_applicable"
	FindingNotAssessed   FindingStatus = "not_assessed"
)

// KnownFindingStatus reports whether s is one of the five finding statuses.
func KnownFindingStatus(s FindingStatus) bool {
	switch s {
	case FindingCompliant, FindingNonCompliant, FindingPartial, FindingNotApplicable, FindingNotAssessed:
		return true
	}
	return false
}

// Severity grades a non-compliant or partial finding.
type Severity string

const (
	SeverityCritical    Severity = "critical"
	SeverityMajor       Severity = "major"
	SeverityMinor       Severity = "minor"
	SeverityObservation Severity = "observation"
)

// KnownSeverity reports whether s is one of the four severity grades.
func KnownSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeverityObservation:
		return true
	}
	return false
}

// RemediationStatus tracks progress on a finding's remediation plan.
type RemediationStatus string

const (
	RemediationOpen       RemediationStatus = "open"
	RemediationInProgress RemediationStatus = "in_progress"
	RemediationResolved   RemediationStatus = "resolved"
	RemediationAccepted   RemediationStatus = "risk_accepted"
)

// Remediation is the follow-up sub-record on a finding.
type Remediation struct {
	Required bool              `json:"required"`
	Status   RemediationStatus `json:"status,omitempty"`
	Plan     string            `json:"plan,omitempty"`
	Owner    string            `json:"owner,omitempty"`
	DueDate  *time.Time        `json:"due_date,omitempty"`
}

// HumanVerification records a human override of an evaluator finding.
type HumanVerification struct {
	VerifiedBy id.UserID `json:"verified_by"`
	VerifiedAt time.Time `json:"verified_at"`
	Notes      string    `json:"notes,omitempty"`
}

// Finding is one control's result within an assessment. Created exactly once
// per (assessment, control) during a run; afterwards mutable only through
// explicit human override, never deleted while the assessment exists.
type Finding struct {
	ID            id.FindingID    `json:"id"`
	AssessmentID  id.AssessmentID `json:"assessment_id"`
	ControlID     id.ControlID    `json:"control_id"`
	ControlDomain string          `json:"control_domain,omitempty"`

	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Status      FindingStatus `json:"status"`
	Severity    *Severity     `json:"severity,omitempty"`
	Evidence    []string      `json:"evidence,omitempty"`

	// Evaluator output.
	Narrative  string  `json:"narrative,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`

	Remediation Remediation        `json:"remediation"`
	Human       *HumanVerification `json:"human_verification,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FindingUpdate is the human-override change set. Nil fields are left
// untouched.
type FindingUpdate struct {
	Status      *FindingStatus
	Severity    *Severity
	Remediation *Remediation
	Notes       string
}

// ApplyUpdate validates and applies a human override, stamping the
// verification sub-record. It never touches the parent assessment's score.
func (f *Finding) ApplyUpdate(update FindingUpdate, verifier id.UserID, now time.Time) error {
	if update.Status != nil && !KnownFindingStatus(*update.Status) {
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown finding status %q", *update.Status)
	}
	if update.Severity != nil && !KnownSeverity(*update.Severity) {
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown severity %q", *update.Severity)
	}

	if update.Status != nil {
		f.Status = *update.Status
	}
	if update.Severity != nil {
		f.Severity = update.Severity
	}
	if update.Remediation != nil {
		f.Remediation = *update.Remediation
	}
	f.Human = &HumanVerification{
		VerifiedBy: verifier,
		VerifiedAt: now,
		Notes:      update.Notes,
	}
	f.UpdatedAt = now
	return nil
}

// FindingQuery filters and paginates an assessment's findings.
type FindingQuery struct {
	Limit    int
	Offset   int
	Status   *FindingStatus
	Severity *Severity
}
