package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/adverant/nexus-compliance/internal/compliance/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
	txcontext "github.com/adverant/nexus-compliance/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

// Postgres persists configs in compliance_configs and the trail in
// compliance_config_audit. The module map is a single JSONB column; the
// closed module type lives in Go, not in the schema.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const configColumns = `id, tenant_id, master_enabled, modules, created_at, updated_at`

func (s *Postgres) GetConfig(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error) {
	query := `SELECT ` + configColumns + ` FROM compliance_configs WHERE tenant_id = $1`
	return s.scanConfig(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID)))
}

func (s *Postgres) GetConfigForUpdate(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error) {
	query := `SELECT ` + configColumns + ` FROM compliance_configs WHERE tenant_id = $1 FOR UPDATE`
	return s.scanConfig(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID)))
}

func (s *Postgres) scanConfig(row *sql.Row) (*models.ComplianceConfig, error) {
	var cfg models.ComplianceConfig
	var cfgID, tenantID uuid.UUID
	var modulesRaw []byte
	err := row.Scan(&cfgID, &tenantID, &cfg.MasterEnabled, &modulesRaw, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan compliance config: %w", err)
	}
	cfg.ID = id.ConfigID(cfgID)
	cfg.TenantID = id.TenantID(tenantID)
	if err := json.Unmarshal(modulesRaw, &cfg.Modules); err != nil {
		return nil, fmt.Errorf("decode module map: %w", err)
	}
	return &cfg, nil
}

func (s *Postgres) CreateConfig(ctx context.Context, cfg *models.ComplianceConfig) error {
	modulesRaw, err := json.Marshal(cfg.Modules)
	if err != nil {
		return fmt.Errorf("encode module map: %w", err)
	}
	query := `
		INSERT INTO compliance_configs (id, tenant_id, master_enabled, modules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(cfg.ID), uuid.UUID(cfg.TenantID), cfg.MasterEnabled, modulesRaw, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert compliance config: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateConfig(ctx context.Context, cfg *models.ComplianceConfig) error {
	modulesRaw, err := json.Marshal(cfg.Modules)
	if err != nil {
		return fmt.Errorf("encode module map: %w", err)
	}
	query := `
		UPDATE compliance_configs
		SET master_enabled = $1, modules = $2, updated_at = $3
		WHERE tenant_id = $4
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		cfg.MasterEnabled, modulesRaw, cfg.UpdatedAt, uuid.UUID(cfg.TenantID))
	if err != nil {
		return fmt.Errorf("update compliance config: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) AppendAudit(ctx context.Context, entry *models.ConfigAudit) error {
	prevRaw, newRaw, err := marshalSnapshots(entry)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO compliance_config_audit (
			id, config_id, tenant_id, action, actor_id, reason,
			prev_state, new_state, module, feature, old_value, new_value,
			ip_address, user_agent, device_summary, session_id, request_id,
			prev_hash, entry_hash, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	var module, feature any
	if entry.Module != nil {
		module = string(*entry.Module)
	}
	if entry.Feature != nil {
		feature = *entry.Feature
	}
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID), uuid.UUID(entry.ConfigID), uuid.UUID(entry.TenantID),
		string(entry.Action), uuid.UUID(entry.ActorID), entry.Reason,
		prevRaw, newRaw, module, feature, entry.OldValue, entry.NewValue,
		entry.Provenance.IPAddress, entry.Provenance.UserAgent, entry.Provenance.DeviceSummary,
		entry.Provenance.SessionID, entry.Provenance.RequestID,
		entry.PrevHash, entry.EntryHash, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func marshalSnapshots(entry *models.ConfigAudit) (prevRaw, newRaw []byte, err error) {
	if entry.PrevState != nil {
		if prevRaw, err = json.Marshal(entry.PrevState); err != nil {
			return nil, nil, fmt.Errorf("encode prev state: %w", err)
		}
	}
	if newRaw, err = json.Marshal(entry.NewState); err != nil {
		return nil, nil, fmt.Errorf("encode new state: %w", err)
	}
	return prevRaw, newRaw, nil
}

func (s *Postgres) LatestEntryHash(ctx context.Context, tenantID id.TenantID) (string, error) {
	query := `
		SELECT entry_hash FROM compliance_config_audit
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	var hash string
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID)).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query latest audit hash: %w", err)
	}
	return hash, nil
}

func (s *Postgres) ListAudit(ctx context.Context, tenantID id.TenantID, query models.AuditQuery) ([]models.ConfigAudit, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultAuditPageSize
	}

	sqlQuery := `
		SELECT id, config_id, tenant_id, action, actor_id, reason,
		       prev_state, new_state, module, feature, old_value, new_value,
		       ip_address, user_agent, device_summary, session_id, request_id,
		       prev_hash, entry_hash, created_at
		FROM compliance_config_audit
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR action = $2)
		  AND ($3::text IS NULL OR module = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`
	var action, module any
	if query.Action != nil {
		action = string(*query.Action)
	}
	if query.Module != nil {
		module = string(*query.Module)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, sqlQuery, uuid.UUID(tenantID), action, module, limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	entries := []models.ConfigAudit{}
	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanAuditRow(rows *sql.Rows) (*models.ConfigAudit, error) {
	var e models.ConfigAudit
	var entryID, configID, tenantID, actorID uuid.UUID
	var action string
	var prevRaw, newRaw []byte
	var module, feature sql.NullString

	err := rows.Scan(&entryID, &configID, &tenantID, &action, &actorID, &e.Reason,
		&prevRaw, &newRaw, &module, &feature, &e.OldValue, &e.NewValue,
		&e.Provenance.IPAddress, &e.Provenance.UserAgent, &e.Provenance.DeviceSummary,
		&e.Provenance.SessionID, &e.Provenance.RequestID,
		&e.PrevHash, &e.EntryHash, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	e.ID = id.AuditID(entryID)
	e.ConfigID = id.ConfigID(configID)
	e.TenantID = id.TenantID(tenantID)
	e.ActorID = id.UserID(actorID)
	e.Action = models.AuditAction(action)
	if module.Valid {
		m := models.ModuleName(module.String)
		e.Module = &m
	}
	if feature.Valid {
		f := feature.String
		e.Feature = &f
	}
	if len(prevRaw) > 0 {
		var snap models.Snapshot
		if err := json.Unmarshal(prevRaw, &snap); err != nil {
			return nil, fmt.Errorf("decode prev state: %w", err)
		}
		e.PrevState = &snap
	}
	if err := json.Unmarshal(newRaw, &e.NewState); err != nil {
		return nil, fmt.Errorf("decode new state: %w", err)
	}
	return &e, nil
}

// PostgresTxRunner wraps mutations in a database transaction carried via
// context, so store calls inside fn share it.
type PostgresTxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresTxRunner(db *sql.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db, timeout: defaultTxTimeout}
}

func (t *PostgresTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
