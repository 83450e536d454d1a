//go:build integration

package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
	"github.com/adverant/nexus-compliance/pkg/testutil/containers"
)

type PostgresAssessmentSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *Postgres
	tx       *PostgresTxRunner
}

func TestPostgresAssessmentSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAssessmentSuite))
}

func (s *PostgresAssessmentSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = NewPostgres(s.postgres.DB)
	s.tx = NewPostgresTxRunner(s.postgres.DB)
}

func (s *PostgresAssessmentSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "control_findings", "compliance_assessments")
	s.Require().NoError(err)
}

func newPendingAssessment(tenantID id.TenantID) *models.Assessment {
	return &models.Assessment{
		ID:          id.NewAssessmentID(),
		TenantID:    tenantID,
		FrameworkID: "iso27001",
		TargetSystem: models.TargetSystem{
			Name:        "billing-api",
			Description: "payment processing service",
		},
		Scope:            []string{"access", "data"},
		ExcludedControls: []id.ControlID{"A.5.23"},
		Status:           models.StatusPending,
		AI:               models.AIMetadata{Requested: true},
		CreatedAt:        time.Now().UTC(),
	}
}

func newStoredFinding(a *models.Assessment, controlID id.ControlID, status models.FindingStatus, severity *models.Severity) models.Finding {
	now := time.Now().UTC()
	return models.Finding{
		ID:            id.NewFindingID(),
		AssessmentID:  a.ID,
		ControlID:     controlID,
		ControlDomain: "access",
		Title:         "Access reviews",
		Status:        status,
		Severity:      severity,
		Evidence:      []string{"access policy v3", "quarterly review minutes"},
		Narrative:     "reviewed against documented evidence",
		Confidence:    0.8,
		Remediation:   models.Remediation{Required: status == models.FindingNonCompliant, Status: models.RemediationOpen},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *PostgresAssessmentSuite) TestRoundTrip() {
	ctx := context.Background()
	a := newPendingAssessment(id.NewTenantID())
	s.Require().NoError(s.store.CreateAssessment(ctx, a))

	got, err := s.store.GetAssessment(ctx, a.TenantID, a.ID)
	s.Require().NoError(err)
	s.Equal(a.ID, got.ID)
	s.Equal(a.FrameworkID, got.FrameworkID)
	s.Equal(a.TargetSystem, got.TargetSystem)
	s.Equal([]string{"access", "data"}, got.Scope)
	s.Equal([]id.ControlID{"A.5.23"}, got.ExcludedControls)
	s.Equal(models.StatusPending, got.Status)
	s.True(got.AI.Requested)
	s.Nil(got.StartedAt)
	s.WithinDuration(a.CreatedAt, got.CreatedAt, time.Second)
}

func (s *PostgresAssessmentSuite) TestCompletionPersistsAggregates() {
	ctx := context.Background()
	a := newPendingAssessment(id.NewTenantID())
	s.Require().NoError(s.store.CreateAssessment(ctx, a))

	now := time.Now().UTC()
	a.ApplyStart(now)
	a.ApplyCompletion(
		models.Counters{ControlsAssessed: 3, CompliantControls: 2, NonCompliantControls: 1},
		map[models.Severity]int{models.SeverityMajor: 1},
		67, models.RiskHigh,
		models.AIMetadata{Model: "unassisted", Confidence: 0.8, Requested: true},
		now,
	)
	s.Require().NoError(s.store.UpdateAssessment(ctx, a))

	got, err := s.store.GetAssessment(ctx, a.TenantID, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
	s.Equal(67, got.Score)
	s.Equal(models.RiskHigh, got.RiskLevel)
	s.Equal(1, got.FindingsBySeverity[models.SeverityMajor])
	s.Equal("unassisted", got.AI.Model)
	s.NotNil(got.StartedAt)
	s.NotNil(got.CompletedAt)
}

func (s *PostgresAssessmentSuite) TestTenantScoping() {
	ctx := context.Background()
	a := newPendingAssessment(id.NewTenantID())
	s.Require().NoError(s.store.CreateAssessment(ctx, a))

	_, err := s.store.GetAssessment(ctx, id.NewTenantID(), a.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresAssessmentSuite) TestListFilterAndPagination() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	for i := 0; i < 3; i++ {
		a := newPendingAssessment(tenantID)
		a.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		s.Require().NoError(s.store.CreateAssessment(ctx, a))
	}
	other := newPendingAssessment(id.NewTenantID())
	s.Require().NoError(s.store.CreateAssessment(ctx, other))

	all, err := s.store.ListAssessments(ctx, tenantID, models.AssessmentQuery{})
	s.Require().NoError(err)
	s.Len(all, 3, "other tenants never leak into the listing")

	completed := models.StatusCompleted
	filtered, err := s.store.ListAssessments(ctx, tenantID, models.AssessmentQuery{Status: &completed})
	s.Require().NoError(err)
	s.Empty(filtered)

	paged, err := s.store.ListAssessments(ctx, tenantID, models.AssessmentQuery{Limit: 2, Offset: 2})
	s.Require().NoError(err)
	s.Len(paged, 1)
}

func (s *PostgresAssessmentSuite) TestFindingsRoundTrip() {
	ctx := context.Background()
	a := newPendingAssessment(id.NewTenantID())
	s.Require().NoError(s.store.CreateAssessment(ctx, a))

	major := models.SeverityMajor
	findings := []models.Finding{
		newStoredFinding(a, "A.5.1", models.FindingCompliant, nil),
		newStoredFinding(a, "A.8.2", models.FindingNonCompliant, &major),
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.InsertFindings(ctx, findings)
	})
	s.Require().NoError(err)

	listed, err := s.store.ListFindings(ctx, a.ID, models.FindingQuery{})
	s.Require().NoError(err)
	s.Require().Len(listed, 2)

	nonCompliant := models.FindingNonCompliant
	filtered, err := s.store.ListFindings(ctx, a.ID, models.FindingQuery{Status: &nonCompliant})
	s.Require().NoError(err)
	s.Require().Len(filtered, 1)
	s.Equal(id.ControlID("A.8.2"), filtered[0].ControlID)
	s.Require().NotNil(filtered[0].Severity)
	s.Equal(models.SeverityMajor, *filtered[0].Severity)
	s.Equal([]string{"access policy v3", "quarterly review minutes"}, filtered[0].Evidence)
	s.True(filtered[0].Remediation.Required)
}

func (s *PostgresAssessmentSuite) TestDuplicateControlFindingConflicts() {
	ctx := context.Background()
	a := newPendingAssessment(id.NewTenantID())
	s.Require().NoError(s.store.CreateAssessment(ctx, a))

	first := []models.Finding{newStoredFinding(a, "A.5.1", models.FindingCompliant, nil)}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.InsertFindings(ctx, first)
	})
	s.Require().NoError(err)

	dup := []models.Finding{newStoredFinding(a, "A.5.1", models.FindingPartial, nil)}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.InsertFindings(ctx, dup)
	})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresAssessmentSuite) TestUpdateFindingPersistsOverride() {
	ctx := context.Background()
	a := newPendingAssessment(id.NewTenantID())
	s.Require().NoError(s.store.CreateAssessment(ctx, a))

	major := models.SeverityMajor
	f := newStoredFinding(a, "A.8.2", models.FindingNonCompliant, &major)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.InsertFindings(ctx, []models.Finding{f})
	})
	s.Require().NoError(err)

	compliant := models.FindingCompliant
	verifier := id.NewUserID()
	s.Require().NoError(f.ApplyUpdate(models.FindingUpdate{
		Status: &compliant,
		Notes:  "compensating control verified on site",
	}, verifier, time.Now().UTC()))
	s.Require().NoError(s.store.UpdateFinding(ctx, &f))

	got, err := s.store.GetFinding(ctx, a.ID, f.ID)
	s.Require().NoError(err)
	s.Equal(models.FindingCompliant, got.Status)
	s.Require().NotNil(got.Human)
	s.Equal(verifier, got.Human.VerifiedBy)
	s.Equal("compensating control verified on site", got.Human.Notes)
}

// TestConcurrentClaimsOneWins verifies the FOR UPDATE row lock serializes
// racing run claims so only one transitions pending to in_progress.
func (s *PostgresAssessmentSuite) TestConcurrentClaimsOneWins() {
	ctx := context.Background()
	a := newPendingAssessment(id.NewTenantID())
	s.Require().NoError(s.store.CreateAssessment(ctx, a))

	const goroutines = 10
	var wg sync.WaitGroup
	var claimed atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
				locked, err := s.store.GetAssessmentForUpdate(ctx, a.TenantID, a.ID)
				if err != nil {
					return err
				}
				if err := locked.CanRun(); err != nil {
					return err
				}
				locked.ApplyStart(time.Now().UTC())
				return s.store.UpdateAssessment(ctx, locked)
			})
			if err == nil {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), claimed.Load(), "exactly one claim should win")

	got, err := s.store.GetAssessment(ctx, a.TenantID, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, got.Status)
}
