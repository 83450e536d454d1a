// Package service implements the assessment engine: lifecycle management,
// run orchestration, and finding review.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/adverant/nexus-compliance/internal/assessment/metrics"
	"github.com/adverant/nexus-compliance/internal/assessment/models"
	"github.com/adverant/nexus-compliance/internal/assessment/ports"
	"github.com/adverant/nexus-compliance/internal/assessment/scoring"
	"github.com/adverant/nexus-compliance/internal/assessment/store"
	compliancemodels "github.com/adverant/nexus-compliance/internal/compliance/models"
	"github.com/adverant/nexus-compliance/internal/platform/outbox"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

const (
	defaultControlTimeout     = 30 * time.Second
	defaultRunTimeout         = 10 * time.Minute
	defaultMaxConcurrentEvals = 4
)

// Outbox event types emitted for assessment lifecycle changes.
const (
	EventAssessmentCompleted = "assessment.completed"
	EventAssessmentFailed    = "assessment.failed"
)

// Gate answers whether a compliance module is enabled for a tenant. Satisfied
// by the compliance service.
type Gate interface {
	IsEnabled(ctx context.Context, tenantID id.TenantID, module compliancemodels.ModuleName, feature string) (bool, error)
}

// Service orchestrates the assessment lifecycle.
type Service struct {
	store     store.Store
	tx        store.TxRunner
	catalog   ports.ControlCatalog
	evaluator ports.ControlEvaluator
	gate      Gate
	outbox    outbox.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	riskPolicy         scoring.RiskPolicy
	controlTimeout     time.Duration
	runTimeout         time.Duration
	maxConcurrentEvals int
}

// Option configures the Service.
type Option func(*Service)

// WithGate enables the module gate check on assessment creation.
func WithGate(g Gate) Option {
	return func(s *Service) { s.gate = g }
}

// WithOutbox attaches an outbox for assessment lifecycle events.
func WithOutbox(o outbox.Store) Option {
	return func(s *Service) { s.outbox = o }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRiskPolicy overrides the default 90/70/50 risk thresholds.
func WithRiskPolicy(p scoring.RiskPolicy) Option {
	return func(s *Service) { s.riskPolicy = p }
}

// WithTimeouts sets the per-control and whole-run evaluation budgets.
func WithTimeouts(control, run time.Duration) Option {
	return func(s *Service) {
		if control > 0 {
			s.controlTimeout = control
		}
		if run > 0 {
			s.runTimeout = run
		}
	}
}

// WithMaxConcurrentEvals bounds parallel control evaluations within a run.
func WithMaxConcurrentEvals(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrentEvals = n
		}
	}
}

// New constructs the assessment service.
func New(st store.Store, tx store.TxRunner, catalog ports.ControlCatalog, evaluator ports.ControlEvaluator, opts ...Option) *Service {
	s := &Service{
		store:              st,
		tx:                 tx,
		catalog:            catalog,
		evaluator:          evaluator,
		logger:             slog.Default(),
		tracer:             otel.Tracer("nexus-compliance/assessment"),
		riskPolicy:         scoring.DefaultRiskPolicy(),
		controlTimeout:     defaultControlTimeout,
		runTimeout:         defaultRunTimeout,
		maxConcurrentEvals: defaultMaxConcurrentEvals,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes a new assessment.
type CreateRequest struct {
	FrameworkID      id.FrameworkID
	TargetSystem     models.TargetSystem
	Scope            []string
	ExcludedControls []id.ControlID
	UseAI            bool
}

// Create validates the framework and inserts a pending assessment. No
// controls are evaluated here; creation and execution are decoupled so a
// misconfigured assessment can be inspected before cost is incurred.
func (s *Service) Create(ctx context.Context, tenantID id.TenantID, req CreateRequest) (*models.Assessment, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}
	if strings.TrimSpace(req.TargetSystem.Name) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "target system name is required")
	}

	framework, err := s.catalog.GetFramework(ctx, req.FrameworkID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "framework %q not found", req.FrameworkID)
	}
	if err != nil {
		return nil, wrapStorage(err, "failed to resolve framework")
	}
	if !framework.Active {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "framework %q is not active", req.FrameworkID)
	}

	if s.gate != nil {
		enabled, err := s.gate.IsEnabled(ctx, tenantID, compliancemodels.ModuleName(framework.Module), "")
		if err != nil {
			return nil, err
		}
		if !enabled {
			return nil, dErrors.Newf(dErrors.CodeForbidden, "module %q is disabled for tenant", framework.Module)
		}
	}

	assessment := &models.Assessment{
		ID:               id.NewAssessmentID(),
		TenantID:         tenantID,
		FrameworkID:      req.FrameworkID,
		TargetSystem:     req.TargetSystem,
		Scope:            req.Scope,
		ExcludedControls: req.ExcludedControls,
		Status:           models.StatusPending,
		AI:               models.AIMetadata{Requested: req.UseAI},
		CreatedAt:        requestcontext.Now(ctx),
	}
	if err := s.store.CreateAssessment(ctx, assessment); err != nil {
		return nil, wrapStorage(err, "failed to create assessment")
	}

	s.logger.InfoContext(ctx, "assessment created",
		"tenant_id", tenantID,
		"assessment_id", assessment.ID,
		"framework_id", req.FrameworkID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return assessment, nil
}

// Get returns one assessment scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	a, err := s.store.GetAssessment(ctx, tenantID, assessmentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "assessment not found")
	}
	if err != nil {
		return nil, wrapStorage(err, "failed to load assessment")
	}
	return a, nil
}

// List returns the tenant's assessments newest-first.
func (s *Service) List(ctx context.Context, tenantID id.TenantID, query models.AssessmentQuery) ([]models.Assessment, error) {
	if query.Status != nil {
		switch *query.Status {
		case models.StatusPending, models.StatusInProgress, models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
		default:
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown status %q", *query.Status)
		}
	}
	list, err := s.store.ListAssessments(ctx, tenantID, query)
	if err != nil {
		return nil, wrapStorage(err, "failed to list assessments")
	}
	return list, nil
}

// Cancel aborts an assessment that has not reached a terminal state.
func (s *Service) Cancel(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	var cancelled *models.Assessment
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		a, err := s.lockAssessment(txCtx, tenantID, assessmentID)
		if err != nil {
			return err
		}
		if err := a.CanCancel(); err != nil {
			return err
		}
		a.ApplyCancel(requestcontext.Now(txCtx))
		if err := s.store.UpdateAssessment(txCtx, a); err != nil {
			return err
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to cancel assessment")
	}

	s.logger.InfoContext(ctx, "assessment cancelled",
		"tenant_id", tenantID,
		"assessment_id", assessmentID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return cancelled, nil
}

// Review attaches a whole-assessment human review annotation. Legal only on
// completed assessments; the annotation is the one field terminal
// assessments remain open to.
func (s *Service) Review(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID, notes string) (*models.Assessment, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "review notes are required")
	}

	var reviewed *models.Assessment
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		a, err := s.lockAssessment(txCtx, tenantID, assessmentID)
		if err != nil {
			return err
		}
		if err := a.CanReview(); err != nil {
			return err
		}
		a.Review = &models.HumanReview{
			ReviewerID: requestcontext.UserID(txCtx),
			Notes:      notes,
			ReviewedAt: requestcontext.Now(txCtx),
		}
		if err := s.store.UpdateAssessment(txCtx, a); err != nil {
			return err
		}
		reviewed = a
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to review assessment")
	}
	return reviewed, nil
}

// GetFindings lists an assessment's findings with status/severity filters.
func (s *Service) GetFindings(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID, query models.FindingQuery) ([]models.Finding, error) {
	if _, err := s.Get(ctx, tenantID, assessmentID); err != nil {
		return nil, err
	}
	findings, err := s.store.ListFindings(ctx, assessmentID, query)
	if err != nil {
		return nil, wrapStorage(err, "failed to list findings")
	}
	return findings, nil
}

// UpdateFinding applies a human override to one finding post-completion. It
// stamps the human-verification sub-record and never recomputes the score;
// re-scoring is the explicit RecomputeScore operation.
func (s *Service) UpdateFinding(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID, findingID id.FindingID, update models.FindingUpdate) (*models.Finding, error) {
	var updated *models.Finding
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		a, err := s.lockAssessment(txCtx, tenantID, assessmentID)
		if err != nil {
			return err
		}
		if a.Status != models.StatusCompleted {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot update findings of assessment in status %q", a.Status)
		}

		f, err := s.store.GetFinding(txCtx, assessmentID, findingID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "finding not found")
		}
		if err != nil {
			return err
		}

		if err := f.ApplyUpdate(update, requestcontext.UserID(txCtx), requestcontext.Now(txCtx)); err != nil {
			return err
		}
		if err := s.store.UpdateFinding(txCtx, f); err != nil {
			return err
		}
		updated = f
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to update finding")
	}

	s.logger.InfoContext(ctx, "finding overridden",
		"tenant_id", tenantID,
		"assessment_id", assessmentID,
		"finding_id", findingID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated, nil
}

// RecomputeScore re-aggregates a completed assessment's findings. Explicit
// by design: finding overrides never trigger it as a side effect.
func (s *Service) RecomputeScore(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	var rescored *models.Assessment
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		a, err := s.lockAssessment(txCtx, tenantID, assessmentID)
		if err != nil {
			return err
		}
		if a.Status != models.StatusCompleted {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot recompute score of assessment in status %q", a.Status)
		}

		findings, err := s.listAllFindings(txCtx, assessmentID)
		if err != nil {
			return err
		}
		summary := scoring.Summarize(findings, s.riskPolicy)
		a.Counters = summary.Counters
		a.FindingsBySeverity = summary.BySeverity
		a.Score = summary.Score
		a.RiskLevel = summary.RiskLevel
		if err := s.store.UpdateAssessment(txCtx, a); err != nil {
			return err
		}
		rescored = a
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to recompute score")
	}

	s.logger.InfoContext(ctx, "assessment rescored",
		"tenant_id", tenantID,
		"assessment_id", assessmentID,
		"score", rescored.Score,
		"risk_level", rescored.RiskLevel,
		"request_id", requestcontext.RequestID(ctx),
	)
	return rescored, nil
}

// listAllFindings pages through every finding of an assessment. Control sets
// are small (tens to low hundreds), so this stays cheap.
func (s *Service) listAllFindings(ctx context.Context, assessmentID id.AssessmentID) ([]models.Finding, error) {
	const pageSize = 200
	var all []models.Finding
	for offset := 0; ; offset += pageSize {
		page, err := s.store.ListFindings(ctx, assessmentID, models.FindingQuery{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func (s *Service) lockAssessment(txCtx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	a, err := s.store.GetAssessmentForUpdate(txCtx, tenantID, assessmentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "assessment not found")
	}
	return a, err
}

// wrapStorage passes coded errors through and wraps raw infrastructure
// failures as internal.
func wrapStorage(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
