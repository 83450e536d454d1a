// Package store persists compliance configurations and their audit trail.
// Implementations come in pairs: an in-memory store for unit tests and local
// runs, and a PostgreSQL store for production.
package store

import (
	"context"

	"github.com/adverant/nexus-compliance/internal/compliance/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
)

// Store is the persistence contract for configs and audit entries. Methods
// return sentinel errors (pkg/platform/sentinel); the service layer
// translates them into domain errors.
//
// Mutating methods and GetConfigForUpdate must be called inside a TxRunner
// boundary; read methods may run standalone.
type Store interface {
	// GetConfig returns the tenant's config or sentinel.ErrNotFound.
	GetConfig(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error)

	// GetConfigForUpdate is GetConfig holding a row-level write lock for
	// the remainder of the surrounding transaction. Toggles for the same
	// tenant serialize on this lock; different tenants never block each
	// other.
	GetConfigForUpdate(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error)

	// CreateConfig inserts a new config. Returns sentinel.ErrConflict if
	// the tenant already has one.
	CreateConfig(ctx context.Context, cfg *models.ComplianceConfig) error

	// UpdateConfig persists the full module map and master flag.
	UpdateConfig(ctx context.Context, cfg *models.ComplianceConfig) error

	// AppendAudit inserts one audit entry. Entries are never updated or
	// deleted afterward.
	AppendAudit(ctx context.Context, entry *models.ConfigAudit) error

	// LatestEntryHash returns the newest audit entry hash for the tenant,
	// or "" when the trail is empty. Called under the config row lock so
	// the hash chain extends serially.
	LatestEntryHash(ctx context.Context, tenantID id.TenantID) (string, error)

	// ListAudit returns audit entries newest-first with filtering and
	// pagination.
	ListAudit(ctx context.Context, tenantID id.TenantID, query models.AuditQuery) ([]models.ConfigAudit, error)
}

// TxRunner provides the transactional boundary for read-modify-write-audit
// sequences. Everything inside fn commits or rolls back together: an audit
// entry must never exist without its state change, nor the reverse.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
