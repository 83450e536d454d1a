package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	"github.com/adverant/nexus-compliance/internal/assessment/ports"
	"github.com/adverant/nexus-compliance/internal/assessment/scoring"
	"github.com/adverant/nexus-compliance/internal/platform/outbox"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

// Run executes an assessment in three phases:
//
//  1. Claim: a short transaction locks the row, verifies the pending/failed
//     re-entry rule, and commits the in_progress transition. Concurrent runs
//     lose here with InvalidState.
//  2. Evaluate: controls are resolved and evaluated with bounded concurrency
//     under a per-control timeout and a whole-run deadline. No database lock
//     is held across evaluator calls.
//  3. Finalize: a second transaction re-locks the row, confirms it is still
//     in_progress (an operator may have cancelled mid-run), and commits all
//     findings plus the completed aggregates atomically.
//
// Any failure in phases 2-3 marks the assessment failed in its own
// transaction; no findings are persisted, so readers never observe partial
// progress.
func (s *Service) Run(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "assessment.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID.String()),
		attribute.String("assessment.id", assessmentID.String()),
	)

	assessment, err := s.claim(ctx, tenantID, assessmentID)
	if err != nil {
		return nil, err
	}

	findings, ai, runErr := s.evaluate(ctx, assessment)
	if runErr != nil {
		s.metrics.ObserveRun("failed", start)
		return nil, s.markFailed(ctx, tenantID, assessmentID, runErr)
	}

	completed, err := s.finalize(ctx, tenantID, assessmentID, findings, ai)
	if err != nil {
		s.metrics.ObserveRun("failed", start)
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			// Cancelled between phases; the cancel is the authoritative
			// outcome, nothing to mark.
			return nil, err
		}
		return nil, s.markFailed(ctx, tenantID, assessmentID, err)
	}

	s.metrics.ObserveRun("completed", start)
	s.logger.InfoContext(ctx, "assessment run completed",
		"tenant_id", tenantID,
		"assessment_id", assessmentID,
		"score", completed.Score,
		"risk_level", completed.RiskLevel,
		"controls_assessed", completed.Counters.ControlsAssessed,
		"request_id", requestcontext.RequestID(ctx),
	)
	return completed, nil
}

func (s *Service) claim(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	var claimed *models.Assessment
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		a, err := s.lockAssessment(txCtx, tenantID, assessmentID)
		if err != nil {
			return err
		}
		if err := a.CanRun(); err != nil {
			return err
		}
		a.ApplyStart(requestcontext.Now(txCtx))
		if err := s.store.UpdateAssessment(txCtx, a); err != nil {
			return err
		}
		claimed = a
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to claim assessment run")
	}
	return claimed, nil
}

// evaluate resolves the control set and produces one finding per control.
// Result ordering matches control ordering regardless of completion order.
func (s *Service) evaluate(ctx context.Context, assessment *models.Assessment) ([]models.Finding, models.AIMetadata, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	controls, err := s.catalog.ListControls(runCtx, assessment.FrameworkID, assessment.Scope, assessment.ExcludedControls)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.AIMetadata{}, dErrors.Newf(dErrors.CodeNotFound, "framework %q not found in catalog", assessment.FrameworkID)
		}
		return nil, models.AIMetadata{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve control set")
	}

	results := make([]ports.EvaluationResult, len(controls))
	g, groupCtx := errgroup.WithContext(runCtx)
	g.SetLimit(s.maxConcurrentEvals)
	for i, control := range controls {
		g.Go(func() error {
			evalCtx, evalCancel := context.WithTimeout(groupCtx, s.controlTimeout)
			defer evalCancel()

			_, span := s.tracer.Start(evalCtx, "assessment.evaluate_control")
			span.SetAttributes(attribute.String("control.id", string(control.ID)))
			defer span.End()

			result, err := s.evaluator.Evaluate(evalCtx, ports.EvaluationRequest{
				Control:      control,
				TargetSystem: assessment.TargetSystem,
				UseAI:        assessment.AI.Requested,
			})
			if err != nil {
				if errors.Is(err, ports.ErrEvaluatorUnavailable) {
					return dErrors.Wrap(err, dErrors.CodeUnavailable, "evaluator unavailable")
				}
				// Per-control failure degrades to not_assessed; the engine
				// never silently skips a control.
				s.logger.ErrorContext(groupCtx, "control evaluation failed",
					"assessment_id", assessment.ID,
					"control_id", control.ID,
					"error", err.Error(),
				)
				result = ports.EvaluationResult{
					Status:    models.FindingNotAssessed,
					Narrative: fmt.Sprintf("control %s not assessed: %v", control.ID, err),
				}
			}
			results[i] = result
			s.metrics.IncEvaluation(string(result.Status))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, models.AIMetadata{}, err
	}
	if err := runCtx.Err(); err != nil {
		return nil, models.AIMetadata{}, dErrors.Wrap(err, dErrors.CodeTimeout, "assessment run deadline exceeded")
	}

	now := requestcontext.Now(ctx)
	findings := make([]models.Finding, len(controls))
	for i, control := range controls {
		result := results[i]
		findings[i] = models.Finding{
			ID:            id.NewFindingID(),
			AssessmentID:  assessment.ID,
			ControlID:     control.ID,
			ControlDomain: control.Domain,
			Title:         control.Title,
			Description:   control.Description,
			Status:        result.Status,
			Severity:      result.Severity,
			Evidence:      result.Evidence,
			Narrative:     result.Narrative,
			Confidence:    result.Confidence,
			Reasoning:     result.Reasoning,
			Remediation: models.Remediation{
				Required: result.Status == models.FindingNonCompliant || result.Status == models.FindingPartial,
				Status:   remediationStatusFor(result.Status),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	ai := models.AIMetadata{
		Model:     s.evaluator.Model(),
		Requested: assessment.AI.Requested,
	}
	return findings, ai, nil
}

func remediationStatusFor(status models.FindingStatus) models.RemediationStatus {
	if status == models.FindingNonCompliant || status == models.FindingPartial {
		return models.RemediationOpen
	}
	return ""
}

func (s *Service) finalize(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID, findings []models.Finding, ai models.AIMetadata) (*models.Assessment, error) {
	var completed *models.Assessment
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		a, err := s.lockAssessment(txCtx, tenantID, assessmentID)
		if err != nil {
			return err
		}
		if a.Status != models.StatusInProgress {
			return dErrors.Newf(dErrors.CodeInvalidState, "assessment no longer in progress (status %q)", a.Status)
		}

		if err := s.store.InsertFindings(txCtx, findings); err != nil {
			return err
		}

		summary := scoring.Summarize(findings, s.riskPolicy)
		ai.Confidence = summary.AvgConfidence
		a.ApplyCompletion(summary.Counters, summary.BySeverity, summary.Score, summary.RiskLevel, ai, requestcontext.Now(txCtx))
		if err := s.store.UpdateAssessment(txCtx, a); err != nil {
			return err
		}
		if err := s.appendOutbox(txCtx, EventAssessmentCompleted, a); err != nil {
			return err
		}
		completed = a
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to finalize assessment run")
	}
	return completed, nil
}

// markFailed records the terminal failed state in its own transaction and
// returns the original run error.
func (s *Service) markFailed(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID, runErr error) error {
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		a, err := s.lockAssessment(txCtx, tenantID, assessmentID)
		if err != nil {
			return err
		}
		if a.Status != models.StatusInProgress {
			return nil
		}
		a.ApplyFailure(dErrors.MessageOf(runErr), requestcontext.Now(txCtx))
		if err := s.store.UpdateAssessment(txCtx, a); err != nil {
			return err
		}
		return s.appendOutbox(txCtx, EventAssessmentFailed, a)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark assessment failed",
			"tenant_id", tenantID,
			"assessment_id", assessmentID,
			"error", err.Error(),
		)
	} else {
		s.logger.ErrorContext(ctx, "assessment run failed",
			"tenant_id", tenantID,
			"assessment_id", assessmentID,
			"error", runErr.Error(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return runErr
}

func (s *Service) appendOutbox(txCtx context.Context, eventType string, a *models.Assessment) error {
	if s.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.outbox.Append(txCtx, outbox.Entry{
		ID:        uuid.New(),
		EventType: eventType,
		TenantID:  a.TenantID,
		Payload:   payload,
		CreatedAt: requestcontext.Now(txCtx),
	})
}
