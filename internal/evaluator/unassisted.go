// Package evaluator holds ControlEvaluator implementations. Unassisted is the
// default shipped with the server: it performs no analysis and records every
// control as not_assessed with zero confidence, leaving classification to
// human review. AI-backed evaluators plug in behind the same interface.
package evaluator

import (
	"context"
	"fmt"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	"github.com/adverant/nexus-compliance/internal/assessment/ports"
)

// Unassisted records every control as not_assessed.
type Unassisted struct{}

func NewUnassisted() *Unassisted {
	return &Unassisted{}
}

func (e *Unassisted) Model() string { return "unassisted" }

func (e *Unassisted) Evaluate(ctx context.Context, req ports.EvaluationRequest) (ports.EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.EvaluationResult{}, err
	}
	return ports.EvaluationResult{
		Status:     models.FindingNotAssessed,
		Narrative:  fmt.Sprintf("control %s not assessed: automated evaluation disabled", req.Control.ID),
		Confidence: 0,
	}, nil
}
