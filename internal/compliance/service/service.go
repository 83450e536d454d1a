// Package service implements the compliance configuration store: per-tenant
// gating state, the two toggle operations, and the append-only audit trail.
//
// Concurrency discipline: every mutation runs inside the store's TxRunner and
// re-reads the config under a row-level write lock, so at most one toggle per
// tenant commits at a time while different tenants proceed independently. The
// audit append shares that transaction; a failure rolls back both together.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus-compliance/internal/compliance/cache"
	"github.com/adverant/nexus-compliance/internal/compliance/metrics"
	"github.com/adverant/nexus-compliance/internal/compliance/models"
	"github.com/adverant/nexus-compliance/internal/compliance/store"
	"github.com/adverant/nexus-compliance/internal/platform/outbox"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

// minReasonLength is the audit policy floor: "fixed it" does not survive a
// regulator's question two years later.
const minReasonLength = 10

// Outbox event types emitted for configuration changes.
const (
	EventConfigCreated = "compliance.config.created"
	EventConfigToggled = "compliance.config.toggled"
)

// Service orchestrates configuration reads, toggles, and audit queries.
type Service struct {
	store   store.Store
	tx      store.TxRunner
	cache   *cache.ConfigCache
	outbox  outbox.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithCache attaches a read-through config cache.
func WithCache(c *cache.ConfigCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithOutbox attaches an outbox for audit event streaming. Entries are
// appended inside the toggle transaction.
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

// New constructs the configuration service.
func New(st store.Store, tx store.TxRunner, opts ...Option) *Service {
	s := &Service{
		store:  st,
		tx:     tx,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ToggleMasterRequest flips the tenant-wide kill switch.
type ToggleMasterRequest struct {
	Enabled bool
	Reason  string
}

// ToggleModuleRequest flips a module's flag, or one named feature within it
// when Feature is set.
type ToggleModuleRequest struct {
	Module  models.ModuleName
	Feature *string
	Enabled bool
	Reason  string
}

// GetConfig returns the tenant's configuration, creating the default one on
// first read. Creation is transactional and produces the trail's CREATE
// entry; a concurrent first read loses the insert race and reads the winner's
// row.
func (s *Service) GetConfig(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}

	if cfg, ok := s.cache.Get(ctx, tenantID); ok {
		return cfg, nil
	}

	cfg, err := s.store.GetConfig(ctx, tenantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		cfg, err = s.createDefault(ctx, tenantID)
	}
	if err != nil {
		return nil, wrapStorage(err, "failed to load compliance config")
	}

	s.cache.Set(ctx, cfg)
	return cfg, nil
}

func (s *Service) createDefault(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error) {
	var created *models.ComplianceConfig
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		cfg := models.DefaultConfig(tenantID, requestcontext.Now(txCtx))
		if err := s.store.CreateConfig(txCtx, cfg); err != nil {
			return err
		}
		if err := s.appendAudit(txCtx, cfg, models.AuditActionCreate, auditDelta{}, nil, "initial default configuration"); err != nil {
			return err
		}
		created = cfg
		return nil
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// Lost the creation race; the winner's row is authoritative.
		return s.store.GetConfig(ctx, tenantID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "compliance config created",
		"tenant_id", tenantID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return created, nil
}

// ToggleMaster sets the tenant-wide master switch. The config is created
// with defaults first if the tenant has never been read.
func (s *Service) ToggleMaster(ctx context.Context, tenantID id.TenantID, req ToggleMasterRequest) (*models.ComplianceConfig, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := validateReason(req.Reason); err != nil {
		return nil, err
	}

	start := time.Now()
	var updated *models.ComplianceConfig
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		cfg, err := s.lockOrCreate(txCtx, tenantID)
		if err != nil {
			return err
		}

		prev := cfg.Snapshot()
		oldValue := cfg.MasterEnabled
		cfg.MasterEnabled = req.Enabled
		cfg.UpdatedAt = requestcontext.Now(txCtx)

		if err := s.store.UpdateConfig(txCtx, cfg); err != nil {
			return err
		}
		delta := auditDelta{oldValue: &oldValue, newValue: &req.Enabled}
		if err := s.appendAudit(txCtx, cfg, models.AuditActionToggleMaster, delta, &prev, req.Reason); err != nil {
			return err
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to toggle master switch")
	}

	s.cache.Invalidate(ctx, tenantID)
	s.metrics.ObserveToggle(string(models.AuditActionToggleMaster), start)
	s.logger.InfoContext(ctx, "master switch toggled",
		"tenant_id", tenantID,
		"enabled", req.Enabled,
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated, nil
}

// ToggleModule sets a module flag or one of its feature flags. Unlike
// ToggleMaster it does NOT auto-create the config: toggling a module for a
// tenant that was never initialized is almost always a caller bug, so it
// surfaces as CodeNotFound instead of silently materializing defaults.
func (s *Service) ToggleModule(ctx context.Context, tenantID id.TenantID, req ToggleModuleRequest) (*models.ComplianceConfig, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := validateReason(req.Reason); err != nil {
		return nil, err
	}
	if !models.KnownModule(req.Module) {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown module %q", req.Module)
	}
	if req.Feature != nil && !models.KnownFeature(req.Module, *req.Feature) {
		return nil, dErrors.Newf(dErrors.CodeInvalidFeature, "unknown feature %q for module %q", *req.Feature, req.Module)
	}

	start := time.Now()
	action := models.AuditActionToggleModule
	if req.Feature != nil {
		action = models.AuditActionToggleFeature
	}

	var updated *models.ComplianceConfig
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		cfg, err := s.store.GetConfigForUpdate(txCtx, tenantID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "compliance config not found for tenant")
			}
			return err
		}

		prev := cfg.Snapshot()
		mc := cfg.Modules[req.Module]
		var oldValue bool
		if req.Feature != nil {
			oldValue = mc.Features[*req.Feature]
			mc.Features[*req.Feature] = req.Enabled
		} else {
			oldValue = mc.Enabled
			mc.Enabled = req.Enabled
		}
		cfg.Modules[req.Module] = mc
		cfg.UpdatedAt = requestcontext.Now(txCtx)

		if err := s.store.UpdateConfig(txCtx, cfg); err != nil {
			return err
		}
		delta := auditDelta{module: &req.Module, feature: req.Feature, oldValue: &oldValue, newValue: &req.Enabled}
		if err := s.appendAudit(txCtx, cfg, action, delta, &prev, req.Reason); err != nil {
			return err
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to toggle module")
	}

	s.cache.Invalidate(ctx, tenantID)
	s.metrics.ObserveToggle(string(action), start)
	s.logger.InfoContext(ctx, "module toggled",
		"tenant_id", tenantID,
		"module", req.Module,
		"feature", featureOrEmpty(req.Feature),
		"enabled", req.Enabled,
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated, nil
}

// GetAuditLog returns the tenant's trail newest-first.
func (s *Service) GetAuditLog(ctx context.Context, tenantID id.TenantID, query models.AuditQuery) ([]models.ConfigAudit, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAudit(ctx, tenantID, query)
	if err != nil {
		return nil, wrapStorage(err, "failed to list audit trail")
	}
	return entries, nil
}

// lockOrCreate loads the config under the row lock, creating the default
// config (with its CREATE audit entry) inside the same transaction when the
// tenant has none yet.
func (s *Service) lockOrCreate(txCtx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error) {
	cfg, err := s.store.GetConfigForUpdate(txCtx, tenantID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	cfg = models.DefaultConfig(tenantID, requestcontext.Now(txCtx))
	if err := s.store.CreateConfig(txCtx, cfg); err != nil {
		return nil, err
	}
	if err := s.appendAudit(txCtx, cfg, models.AuditActionCreate, auditDelta{}, nil, "initial default configuration"); err != nil {
		return nil, err
	}
	return cfg, nil
}

type auditDelta struct {
	module   *models.ModuleName
	feature  *string
	oldValue *bool
	newValue *bool
}

// appendAudit builds the trail entry for a committed-with mutation: actor and
// provenance from requestcontext, hash chained onto the tenant's latest
// entry, mirrored into the outbox for streaming. Runs inside the caller's
// transaction.
func (s *Service) appendAudit(txCtx context.Context, cfg *models.ComplianceConfig, action models.AuditAction, delta auditDelta, prev *models.Snapshot, reason string) error {
	entry := &models.ConfigAudit{
		ID:        id.NewAuditID(),
		ConfigID:  cfg.ID,
		TenantID:  cfg.TenantID,
		Action:    action,
		ActorID:   requestcontext.UserID(txCtx),
		Reason:    reason,
		PrevState: prev,
		NewState:  cfg.Snapshot(),
		Module:    delta.module,
		Feature:   delta.feature,
		OldValue:  delta.oldValue,
		NewValue:  delta.newValue,
		Provenance: models.Provenance{
			IPAddress:     requestcontext.ClientIP(txCtx),
			UserAgent:     requestcontext.UserAgent(txCtx),
			DeviceSummary: requestcontext.DeviceSummary(txCtx),
			SessionID:     requestcontext.SessionID(txCtx),
			RequestID:     requestcontext.RequestID(txCtx),
		},
		CreatedAt: requestcontext.Now(txCtx),
	}

	prevHash, err := s.store.LatestEntryHash(txCtx, cfg.TenantID)
	if err != nil {
		return err
	}
	if err := entry.ComputeEntryHash(prevHash); err != nil {
		return err
	}
	if err := s.store.AppendAudit(txCtx, entry); err != nil {
		return err
	}
	return s.appendOutbox(txCtx, entry)
}

func (s *Service) appendOutbox(txCtx context.Context, entry *models.ConfigAudit) error {
	if s.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	eventType := EventConfigToggled
	if entry.Action == models.AuditActionCreate {
		eventType = EventConfigCreated
	}
	return s.outbox.Append(txCtx, outbox.Entry{
		ID:        uuid.New(),
		EventType: eventType,
		TenantID:  entry.TenantID,
		Payload:   payload,
		CreatedAt: entry.CreatedAt,
	})
}

func requireTenantID(tenantID id.TenantID) error {
	if tenantID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}
	return nil
}

func validateReason(reason string) error {
	if len(strings.TrimSpace(reason)) < minReasonLength {
		return dErrors.Newf(dErrors.CodeBadRequest, "reason must be at least %d characters", minReasonLength)
	}
	return nil
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

func featureOrEmpty(f *string) string {
	if f == nil {
		return ""
	}
	return *f
}
