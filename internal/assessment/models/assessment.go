// Package models defines the assessment aggregate and its control findings.
package models

import (
	"time"

	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
)

// Status is the assessment lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further lifecycle
// transitions. Human review of findings remains allowed on completed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RiskLevel is the coarse bucket derived from the numeric score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// TargetSystem identifies what the assessment evaluates.
type TargetSystem struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Counters are the per-status control tallies persisted with the assessment.
// ControlsAssessed counts only compliant + non-compliant + partial; the other
// two statuses are tracked but excluded from the scoring denominator.
type Counters struct {
	ControlsAssessed      int `json:"controls_assessed"`
	CompliantControls     int `json:"compliant_controls"`
	NonCompliantControls  int `json:"non_compliant_controls"`
	PartialControls       int `json:"partial_controls"`
	NotApplicableControls int `json:"not_applicable_controls"`
	NotAssessedControls   int `json:"not_assessed_controls"`
}

// AIMetadata records which evaluator produced the findings and its aggregate
// confidence across assessed controls.
type AIMetadata struct {
	Model      string  `json:"model,omitempty"`
	Confidence float64 `json:"confidence"`
	Requested  bool    `json:"requested"`
}

// HumanReview is an optional post-completion annotation on the whole
// assessment.
type HumanReview struct {
	ReviewerID id.UserID `json:"reviewer_id"`
	Notes      string    `json:"notes"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Assessment is one assessment run against a target system.
//
// Mutated only through the Can*/Apply* transitions below; immutable once
// terminal except for the review annotation.
type Assessment struct {
	ID           id.AssessmentID `json:"id"`
	TenantID     id.TenantID     `json:"tenant_id"`
	FrameworkID  id.FrameworkID  `json:"framework_id"`
	TargetSystem TargetSystem    `json:"target_system"`

	// Scope restricts evaluation to matching control domains when non-empty;
	// ExcludedControls subtracts individual controls by id.
	Scope            []string       `json:"scope,omitempty"`
	ExcludedControls []id.ControlID `json:"excluded_controls,omitempty"`

	Status   Status   `json:"status"`
	Counters Counters `json:"counters"`

	FindingsBySeverity map[Severity]int `json:"findings_by_severity,omitempty"`
	Score              int              `json:"score"`
	RiskLevel          RiskLevel        `json:"risk_level,omitempty"`

	AI            AIMetadata   `json:"ai"`
	Review        *HumanReview `json:"review,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CanRun reports whether a run may claim the assessment: only initial or
// previously failed runs re-enter.
func (a *Assessment) CanRun() error {
	switch a.Status {
	case StatusPending, StatusFailed:
		return nil
	case StatusInProgress:
		return dErrors.New(dErrors.CodeInvalidState, "assessment run already in progress")
	default:
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot run assessment in status %q", a.Status)
	}
}

// ApplyStart transitions to in_progress and stamps the start time. Clears
// leftovers from a prior failed attempt.
func (a *Assessment) ApplyStart(now time.Time) {
	a.Status = StatusInProgress
	a.StartedAt = &now
	a.CompletedAt = nil
	a.FailureReason = ""
}

// ApplyCompletion records the run's aggregate outcome and moves to completed.
func (a *Assessment) ApplyCompletion(counters Counters, bySeverity map[Severity]int, score int, risk RiskLevel, ai AIMetadata, now time.Time) {
	a.Status = StatusCompleted
	a.Counters = counters
	a.FindingsBySeverity = bySeverity
	a.Score = score
	a.RiskLevel = risk
	a.AI = ai
	a.CompletedAt = &now
}

// ApplyFailure moves to failed with the given reason. No counters or score
// are recorded; a failed run persists no findings.
func (a *Assessment) ApplyFailure(reason string, now time.Time) {
	a.Status = StatusFailed
	a.FailureReason = reason
	a.CompletedAt = &now
}

// CanCancel reports whether an operator abort is legal: only before the
// assessment reaches a terminal state.
func (a *Assessment) CanCancel() error {
	if a.Status.Terminal() {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot cancel assessment in status %q", a.Status)
	}
	return nil
}

// ApplyCancel transitions to the cancelled terminal state.
func (a *Assessment) ApplyCancel(now time.Time) {
	a.Status = StatusCancelled
	a.CompletedAt = &now
}

// CanReview reports whether the whole-assessment review annotation is legal;
// only completed assessments are reviewable.
func (a *Assessment) CanReview() error {
	if a.Status != StatusCompleted {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot review assessment in status %q", a.Status)
	}
	return nil
}

// AssessmentQuery filters and paginates assessment listings. Results are
// newest-first.
type AssessmentQuery struct {
	Limit  int
	Offset int
	Status *Status
}
