// Package ports declares the collaborator contracts the assessment engine
// depends on: the control catalog supplying what to evaluate, and the
// evaluator classifying each control. Implementations live elsewhere; the
// engine is written against these interfaces only.
package ports

import (
	"context"
	"errors"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
)

// Control is one catalog entry, the unit of evaluation.
type Control struct {
	ID                     id.ControlID
	Domain                 string
	Title                  string
	Description            string
	ImplementationPriority int
	EvidenceRequirements   []string
	RiskCategory           string
}

// Framework describes a regulatory framework in the catalog.
type Framework struct {
	ID      id.FrameworkID
	Name    string
	Version string
	Active  bool
	// Module maps the framework onto the compliance module that gates it.
	Module string
}

// ControlCatalog supplies frameworks and their control sets. Re-fetched per
// run; the engine does not cache.
type ControlCatalog interface {
	// GetFramework returns the framework or sentinel.ErrNotFound.
	GetFramework(ctx context.Context, frameworkID id.FrameworkID) (Framework, error)

	// ListControls returns frameworkID's controls restricted to the given
	// domains (all when empty) minus excludeIDs, ordered by descending
	// implementation priority with catalog order breaking ties.
	ListControls(ctx context.Context, frameworkID id.FrameworkID, domains []string, excludeIDs []id.ControlID) ([]Control, error)
}

// EvaluationRequest is one control evaluation call.
type EvaluationRequest struct {
	Control      Control
	TargetSystem models.TargetSystem
	UseAI        bool
}

// EvaluationResult is the evaluator's classification of one control.
type EvaluationResult struct {
	Status     models.FindingStatus
	Severity   *models.Severity
	Narrative  string
	Confidence float64
	Reasoning  string
	Evidence   []string
}

// ErrEvaluatorUnavailable marks a systemic evaluator failure (missing
// credentials, unreachable backend). The engine fails the whole run on it;
// any other evaluation error degrades that one control to not_assessed.
var ErrEvaluatorUnavailable = errors.New("evaluator unavailable")

// ControlEvaluator classifies controls. Implementations must respect ctx
// cancellation; the engine applies a per-control timeout.
type ControlEvaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error)

	// Model identifies the evaluator for assessment metadata.
	Model() string
}
