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

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
	txcontext "github.com/adverant/nexus-compliance/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

// Postgres persists assessments in compliance_assessments and findings in
// control_findings. Array-valued columns (scope, exclusions, evidence) use
// text[]; severity tallies and sub-records are JSONB.
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

const assessmentColumns = `id, tenant_id, framework_id, target_system_name, target_system_desc,
	scope, excluded_controls, status,
	controls_assessed, compliant_controls, non_compliant_controls, partial_controls,
	not_applicable_controls, not_assessed_controls, findings_by_severity,
	score, risk_level, ai_model, ai_confidence, ai_requested, review, failure_reason,
	created_at, started_at, completed_at`

func (s *Postgres) CreateAssessment(ctx context.Context, a *models.Assessment) error {
	bySeverityRaw, reviewRaw, err := marshalAssessmentJSON(a)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO compliance_assessments (` + assessmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID), uuid.UUID(a.TenantID), string(a.FrameworkID),
		a.TargetSystem.Name, a.TargetSystem.Description,
		pq.Array(a.Scope), pq.Array(controlIDStrings(a.ExcludedControls)), string(a.Status),
		a.Counters.ControlsAssessed, a.Counters.CompliantControls, a.Counters.NonCompliantControls,
		a.Counters.PartialControls, a.Counters.NotApplicableControls, a.Counters.NotAssessedControls,
		bySeverityRaw, a.Score, string(a.RiskLevel),
		a.AI.Model, a.AI.Confidence, a.AI.Requested, reviewRaw, a.FailureReason,
		a.CreatedAt, a.StartedAt, a.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (s *Postgres) GetAssessment(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM compliance_assessments WHERE tenant_id = $1 AND id = $2`
	return scanAssessment(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(assessmentID)))
}

func (s *Postgres) GetAssessmentForUpdate(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM compliance_assessments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	return scanAssessment(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(assessmentID)))
}

func (s *Postgres) UpdateAssessment(ctx context.Context, a *models.Assessment) error {
	bySeverityRaw, reviewRaw, err := marshalAssessmentJSON(a)
	if err != nil {
		return err
	}
	query := `
		UPDATE compliance_assessments
		SET status = $1,
		    controls_assessed = $2, compliant_controls = $3, non_compliant_controls = $4,
		    partial_controls = $5, not_applicable_controls = $6, not_assessed_controls = $7,
		    findings_by_severity = $8, score = $9, risk_level = $10,
		    ai_model = $11, ai_confidence = $12, ai_requested = $13,
		    review = $14, failure_reason = $15, started_at = $16, completed_at = $17
		WHERE tenant_id = $18 AND id = $19
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(a.Status),
		a.Counters.ControlsAssessed, a.Counters.CompliantControls, a.Counters.NonCompliantControls,
		a.Counters.PartialControls, a.Counters.NotApplicableControls, a.Counters.NotAssessedControls,
		bySeverityRaw, a.Score, string(a.RiskLevel),
		a.AI.Model, a.AI.Confidence, a.AI.Requested,
		reviewRaw, a.FailureReason, a.StartedAt, a.CompletedAt,
		uuid.UUID(a.TenantID), uuid.UUID(a.ID),
	)
	if err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListAssessments(ctx context.Context, tenantID id.TenantID, query models.AssessmentQuery) ([]models.Assessment, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	sqlQuery := `
		SELECT ` + assessmentColumns + `
		FROM compliance_assessments
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	var status any
	if query.Status != nil {
		status = string(*query.Status)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, sqlQuery, uuid.UUID(tenantID), status, limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	out := []models.Assessment{}
	for rows.Next() {
		a, err := scanAssessmentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row *sql.Row) (*models.Assessment, error) {
	a, err := scanAssessmentFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return a, err
}

func scanAssessmentRows(rows *sql.Rows) (*models.Assessment, error) {
	return scanAssessmentFrom(rows)
}

func scanAssessmentFrom(row rowScanner) (*models.Assessment, error) {
	var a models.Assessment
	var assessmentID, tenantID uuid.UUID
	var frameworkID, status, riskLevel string
	var scope, exclusions pq.StringArray
	var bySeverityRaw []byte
	var reviewRaw []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&assessmentID, &tenantID, &frameworkID,
		&a.TargetSystem.Name, &a.TargetSystem.Description,
		&scope, &exclusions, &status,
		&a.Counters.ControlsAssessed, &a.Counters.CompliantControls, &a.Counters.NonCompliantControls,
		&a.Counters.PartialControls, &a.Counters.NotApplicableControls, &a.Counters.NotAssessedControls,
		&bySeverityRaw, &a.Score, &riskLevel,
		&a.AI.Model, &a.AI.Confidence, &a.AI.Requested, &reviewRaw, &a.FailureReason,
		&a.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan assessment: %w", err)
	}

	a.ID = id.AssessmentID(assessmentID)
	a.TenantID = id.TenantID(tenantID)
	a.FrameworkID = id.FrameworkID(frameworkID)
	a.Status = models.Status(status)
	a.RiskLevel = models.RiskLevel(riskLevel)
	a.Scope = scope
	a.ExcludedControls = controlIDs(exclusions)
	if startedAt.Valid {
		t := startedAt.Time
		a.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	if len(bySeverityRaw) > 0 {
		if err := json.Unmarshal(bySeverityRaw, &a.FindingsBySeverity); err != nil {
			return nil, fmt.Errorf("decode severity tallies: %w", err)
		}
	}
	if len(reviewRaw) > 0 {
		var review models.HumanReview
		if err := json.Unmarshal(reviewRaw, &review); err != nil {
			return nil, fmt.Errorf("decode review: %w", err)
		}
		a.Review = &review
	}
	return &a, nil
}

func marshalAssessmentJSON(a *models.Assessment) (bySeverityRaw, reviewRaw []byte, err error) {
	bySeverity := a.FindingsBySeverity
	if bySeverity == nil {
		bySeverity = map[models.Severity]int{}
	}
	if bySeverityRaw, err = json.Marshal(bySeverity); err != nil {
		return nil, nil, fmt.Errorf("encode severity tallies: %w", err)
	}
	if a.Review != nil {
		if reviewRaw, err = json.Marshal(a.Review); err != nil {
			return nil, nil, fmt.Errorf("encode review: %w", err)
		}
	}
	return bySeverityRaw, reviewRaw, nil
}

func controlIDStrings(ids []id.ControlID) []string {
	out := make([]string, len(ids))
	for i, cid := range ids {
		out[i] = string(cid)
	}
	return out
}

func controlIDs(raw []string) []id.ControlID {
	out := make([]id.ControlID, len(raw))
	for i, s := range raw {
		out[i] = id.ControlID(s)
	}
	return out
}

const findingColumns = `id, assessment_id, control_id, control_domain, title, description,
	status, severity, evidence, narrative, confidence, reasoning,
	remediation, human_verification, created_at, updated_at`

func (s *Postgres) InsertFindings(ctx context.Context, findings []models.Finding) error {
	query := `
		INSERT INTO control_findings (` + findingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	for i := range findings {
		f := &findings[i]
		remediationRaw, humanRaw, err := marshalFindingJSON(f)
		if err != nil {
			return err
		}
		var severity any
		if f.Severity != nil {
			severity = string(*f.Severity)
		}
		_, err = s.execer(ctx).ExecContext(ctx, query,
			uuid.UUID(f.ID), uuid.UUID(f.AssessmentID), string(f.ControlID), f.ControlDomain,
			f.Title, f.Description, string(f.Status), severity,
			pq.Array(f.Evidence), f.Narrative, f.Confidence, f.Reasoning,
			remediationRaw, humanRaw, f.CreatedAt, f.UpdatedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert finding for control %s: %w", f.ControlID, err)
		}
	}
	return nil
}

func (s *Postgres) ListFindings(ctx context.Context, assessmentID id.AssessmentID, query models.FindingQuery) ([]models.Finding, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	sqlQuery := `
		SELECT ` + findingColumns + `
		FROM control_findings
		WHERE assessment_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR severity = $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4 OFFSET $5
	`
	var status, severity any
	if query.Status != nil {
		status = string(*query.Status)
	}
	if query.Severity != nil {
		severity = string(*query.Severity)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, sqlQuery, uuid.UUID(assessmentID), status, severity, limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	out := []models.Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *Postgres) GetFinding(ctx context.Context, assessmentID id.AssessmentID, findingID id.FindingID) (*models.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM control_findings WHERE assessment_id = $1 AND id = $2`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(assessmentID), uuid.UUID(findingID))
	if err != nil {
		return nil, fmt.Errorf("query finding: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sentinel.ErrNotFound
	}
	return scanFinding(rows)
}

func (s *Postgres) UpdateFinding(ctx context.Context, f *models.Finding) error {
	remediationRaw, humanRaw, err := marshalFindingJSON(f)
	if err != nil {
		return err
	}
	var severity any
	if f.Severity != nil {
		severity = string(*f.Severity)
	}
	query := `
		UPDATE control_findings
		SET status = $1, severity = $2, evidence = $3,
		    remediation = $4, human_verification = $5, updated_at = $6
		WHERE assessment_id = $7 AND id = $8
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(f.Status), severity, pq.Array(f.Evidence),
		remediationRaw, humanRaw, f.UpdatedAt,
		uuid.UUID(f.AssessmentID), uuid.UUID(f.ID),
	)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanFinding(rows *sql.Rows) (*models.Finding, error) {
	var f models.Finding
	var findingID, assessmentID uuid.UUID
	var controlID, status string
	var severity sql.NullString
	var evidence pq.StringArray
	var remediationRaw, humanRaw []byte

	err := rows.Scan(
		&findingID, &assessmentID, &controlID, &f.ControlDomain,
		&f.Title, &f.Description, &status, &severity,
		&evidence, &f.Narrative, &f.Confidence, &f.Reasoning,
		&remediationRaw, &humanRaw, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan finding: %w", err)
	}

	f.ID = id.FindingID(findingID)
	f.AssessmentID = id.AssessmentID(assessmentID)
	f.ControlID = id.ControlID(controlID)
	f.Status = models.FindingStatus(status)
	f.Evidence = evidence
	if severity.Valid {
		sev := models.Severity(severity.String)
		f.Severity = &sev
	}
	if len(remediationRaw) > 0 {
		if err := json.Unmarshal(remediationRaw, &f.Remediation); err != nil {
			return nil, fmt.Errorf("decode remediation: %w", err)
		}
	}
	if len(humanRaw) > 0 {
		var human models.HumanVerification
		if err := json.Unmarshal(humanRaw, &human); err != nil {
			return nil, fmt.Errorf("decode human verification: %w", err)
		}
		f.Human = &human
	}
	return &f, nil
}

func marshalFindingJSON(f *models.Finding) (remediationRaw, humanRaw []byte, err error) {
	if remediationRaw, err = json.Marshal(f.Remediation); err != nil {
		return nil, nil, fmt.Errorf("encode remediation: %w", err)
	}
	if f.Human != nil {
		if humanRaw, err = json.Marshal(f.Human); err != nil {
			return nil, nil, fmt.Errorf("encode human verification: %w", err)
		}
	}
	return remediationRaw, humanRaw, nil
}

const defaultTxTimeout = 5 * time.Second

// PostgresTxRunner wraps lifecycle mutations in a database transaction
// carried via context.
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
