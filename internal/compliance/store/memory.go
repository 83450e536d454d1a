package store

import (
	"context"
	"sync"
	"time"

	"github.com/adverant/nexus-compliance/internal/compliance/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
)

// InMemory keeps configs and audit trails in maps. Lock discipline mirrors
// the postgres store: callers run mutations inside InMemoryTxRunner, which
// provides the exclusion GetConfigForUpdate relies on.
type InMemory struct {
	mu      sync.RWMutex
	configs map[id.TenantID]*models.ComplianceConfig
	audit   map[id.TenantID][]models.ConfigAudit
}

func NewInMemory() *InMemory {
	return &InMemory{
		configs: make(map[id.TenantID]*models.ComplianceConfig),
		audit:   make(map[id.TenantID][]models.ConfigAudit),
	}
}

func (s *InMemory) GetConfig(_ context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cfg.Clone(), nil
}

func (s *InMemory) GetConfigForUpdate(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error) {
	return s.GetConfig(ctx, tenantID)
}

func (s *InMemory) CreateConfig(_ context.Context, cfg *models.ComplianceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configs[cfg.TenantID]; exists {
		return sentinel.ErrConflict
	}
	s.configs[cfg.TenantID] = cfg.Clone()
	return nil
}

func (s *InMemory) UpdateConfig(_ context.Context, cfg *models.ComplianceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configs[cfg.TenantID]; !exists {
		return sentinel.ErrNotFound
	}
	s.configs[cfg.TenantID] = cfg.Clone()
	return nil
}

func (s *InMemory) AppendAudit(_ context.Context, entry *models.ConfigAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[entry.TenantID] = append(s.audit[entry.TenantID], *entry)
	return nil
}

func (s *InMemory) LatestEntryHash(_ context.Context, tenantID id.TenantID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := s.audit[tenantID]
	if len(trail) == 0 {
		return "", nil
	}
	return trail[len(trail)-1].EntryHash, nil
}

func (s *InMemory) ListAudit(_ context.Context, tenantID id.TenantID, query models.AuditQuery) ([]models.ConfigAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trail := s.audit[tenantID]
	// Newest first.
	filtered := make([]models.ConfigAudit, 0, len(trail))
	for i := len(trail) - 1; i >= 0; i-- {
		e := trail[i]
		if query.Action != nil && e.Action != *query.Action {
			continue
		}
		if query.Module != nil && (e.Module == nil || *e.Module != *query.Module) {
			continue
		}
		filtered = append(filtered, e)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultAuditPageSize
	}
	offset := query.Offset
	if offset >= len(filtered) {
		return []models.ConfigAudit{}, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], nil
}

// ChainFor returns the tenant's full trail oldest-first, for chain
// verification in tests.
func (s *InMemory) ChainFor(tenantID id.TenantID) []models.ConfigAudit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ConfigAudit{}, s.audit[tenantID]...)
}

const defaultAuditPageSize = 50

// defaultTxTimeout bounds a toggle transaction so a stuck caller cannot hold
// the tenant's lock indefinitely.
const defaultTxTimeout = 5 * time.Second

// InMemoryTxRunner serializes mutations with a coarse lock, standing in for
// the row-level locking the postgres runner gets from the database.
type InMemoryTxRunner struct {
	mu      sync.Mutex
	timeout time.Duration
}

func NewInMemoryTxRunner() *InMemoryTxRunner {
	return &InMemoryTxRunner{timeout: defaultTxTimeout}
}

func (t *InMemoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}
