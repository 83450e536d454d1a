// Package store persists assessments and findings. Every query is scoped by
// tenant id explicitly; nothing relies on ambient session state for
// isolation.
package store

import (
	"context"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
)

// Store is the persistence contract for the assessment engine. Methods
// participate in a caller's transaction when one is carried in ctx.
type Store interface {
	CreateAssessment(ctx context.Context, a *models.Assessment) error
	GetAssessment(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error)

	// GetAssessmentForUpdate takes the row-level write lock backing the
	// lifecycle serialization points. Postgres only; the memory twin relies
	// on the TxRunner's exclusion.
	GetAssessmentForUpdate(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error)

	UpdateAssessment(ctx context.Context, a *models.Assessment) error
	ListAssessments(ctx context.Context, tenantID id.TenantID, query models.AssessmentQuery) ([]models.Assessment, error)

	// InsertFindings batch-inserts a run's findings; called once per
	// successful run inside the finalize transaction.
	InsertFindings(ctx context.Context, findings []models.Finding) error

	ListFindings(ctx context.Context, assessmentID id.AssessmentID, query models.FindingQuery) ([]models.Finding, error)
	GetFinding(ctx context.Context, assessmentID id.AssessmentID, findingID id.FindingID) (*models.Finding, error)
	UpdateFinding(ctx context.Context, f *models.Finding) error
}

// TxRunner executes fn inside a transaction boundary.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
