package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	"github.com/adverant/nexus-compliance/internal/assessment/ports"
	"github.com/adverant/nexus-compliance/internal/assessment/store"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/testutil"
)

type RunSuite struct {
	suite.Suite
	store     *store.InMemory
	catalog   *fakeCatalog
	evaluator *fakeEvaluator
	service   *Service
	ctx       context.Context
	tenantID  id.TenantID
}

func (s *RunSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.catalog = &fakeCatalog{}
	s.evaluator = &fakeEvaluator{
		results: map[id.ControlID]ports.EvaluationResult{
			"C-1": compliantResult(),
			"C-2": compliantResult(),
			"C-3": nonCompliantMajor(),
		},
	}
	s.service = New(s.store, store.NewInMemoryTxRunner(), s.catalog, s.evaluator)
	s.ctx = testutil.Context(id.NewUserID())
	s.tenantID = id.NewTenantID()
}

func TestRunSuite(t *testing.T) {
	suite.Run(t, new(RunSuite))
}

func (s *RunSuite) create() *models.Assessment {
	a, err := s.service.Create(s.ctx, s.tenantID, CreateRequest{
		FrameworkID:  "iso27001",
		TargetSystem: models.TargetSystem{Name: "billing-api"},
	})
	s.Require().NoError(err)
	return a
}

func (s *RunSuite) TestHappyPath() {
	a := s.create()

	completed, err := s.service.Run(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)

	s.Equal(models.StatusCompleted, completed.Status)
	s.Equal(3, completed.Counters.ControlsAssessed)
	s.Equal(2, completed.Counters.CompliantControls)
	s.Equal(1, completed.Counters.NonCompliantControls)
	s.Equal(67, completed.Score)
	s.Equal(models.RiskHigh, completed.RiskLevel)
	s.Equal(1, completed.FindingsBySeverity[models.SeverityMajor])
	s.Equal("fake-evaluator", completed.AI.Model)
	s.NotNil(completed.StartedAt)
	s.NotNil(completed.CompletedAt)

	findings, err := s.store.ListFindings(s.ctx, a.ID, models.FindingQuery{})
	s.Require().NoError(err)
	s.Require().Len(findings, 3)
	// Findings follow catalog priority order.
	s.Equal(id.ControlID("C-1"), findings[0].ControlID)
	s.True(findings[2].Remediation.Required)
	s.Equal(models.RemediationOpen, findings[2].Remediation.Status)
	s.False(findings[0].Remediation.Required)
}

func (s *RunSuite) TestScopeAndExclusions() {
	a, err := s.service.Create(s.ctx, s.tenantID, CreateRequest{
		FrameworkID:      "iso27001",
		TargetSystem:     models.TargetSystem{Name: "billing-api"},
		Scope:            []string{"access"},
		ExcludedControls: []id.ControlID{"C-2"},
	})
	s.Require().NoError(err)

	completed, err := s.service.Run(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)

	findings, err := s.store.ListFindings(s.ctx, a.ID, models.FindingQuery{})
	s.Require().NoError(err)
	s.Require().Len(findings, 1)
	s.Equal(id.ControlID("C-1"), findings[0].ControlID)
	s.Equal(100, completed.Score)
}

func (s *RunSuite) TestRunOnCompletedRejected() {
	a := s.create()
	first, err := s.service.Run(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)

	_, err = s.service.Run(s.ctx, s.tenantID, a.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	// Existing findings and aggregates untouched.
	again, err := s.service.Get(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)
	s.Equal(first.Score, again.Score)
	findings, err := s.store.ListFindings(s.ctx, a.ID, models.FindingQuery{})
	s.Require().NoError(err)
	s.Len(findings, 3)
}

func (s *RunSuite) TestConcurrentRunsOneWins() {
	a := s.create()

	s.evaluator.block = make(chan struct{})
	firstClaimed := make(chan struct{})
	results := make(chan error, 1)

	go func() {
		_, err := s.service.Run(s.ctx, s.tenantID, a.ID)
		results <- err
	}()

	// Wait for the first run to commit its claim.
	go func() {
		for {
			current, err := s.service.Get(s.ctx, s.tenantID, a.ID)
			if err == nil && current.Status == models.StatusInProgress {
				close(firstClaimed)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	<-firstClaimed

	_, err := s.service.Run(s.ctx, s.tenantID, a.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "second run must lose with InvalidState")

	close(s.evaluator.block)
	s.Require().NoError(<-results)

	final, err := s.service.Get(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, final.Status)
	findings, err := s.store.ListFindings(s.ctx, a.ID, models.FindingQuery{})
	s.Require().NoError(err)
	s.Len(findings, 3, "exactly one run's findings persisted")
}

func (s *RunSuite) TestPerControlFailureDegrades() {
	s.evaluator.errs = map[id.ControlID]error{"C-2": errors.New("evaluation backend hiccup")}
	a := s.create()

	completed, err := s.service.Run(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)

	s.Equal(models.StatusCompleted, completed.Status)
	s.Equal(2, completed.Counters.ControlsAssessed)
	s.Equal(1, completed.Counters.NotAssessedControls)
	// Denominator excludes the degraded control: 1 compliant of 2 assessed.
	s.Equal(50, completed.Score)

	status := models.FindingNotAssessed
	findings, err := s.store.ListFindings(s.ctx, a.ID, models.FindingQuery{Status: &status})
	s.Require().NoError(err)
	s.Require().Len(findings, 1)
	s.Equal(id.ControlID("C-2"), findings[0].ControlID)
	s.Contains(findings[0].Narrative, "not assessed")
}

func (s *RunSuite) TestSystemicFailureFailsRun() {
	s.evaluator.errs = map[id.ControlID]error{"C-1": ports.ErrEvaluatorUnavailable}
	a := s.create()

	_, err := s.service.Run(s.ctx, s.tenantID, a.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	failed, getErr := s.service.Get(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(getErr)
	s.Equal(models.StatusFailed, failed.Status)
	s.NotEmpty(failed.FailureReason)

	findings, listErr := s.store.ListFindings(s.ctx, a.ID, models.FindingQuery{})
	s.Require().NoError(listErr)
	s.Empty(findings, "failed run persists no findings")
}

func (s *RunSuite) TestReRunAfterFailure() {
	s.evaluator.errs = map[id.ControlID]error{"C-1": ports.ErrEvaluatorUnavailable}
	a := s.create()

	_, err := s.service.Run(s.ctx, s.tenantID, a.ID)
	s.Require().Error(err)

	s.evaluator.errs = nil
	completed, err := s.service.Run(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, completed.Status)
	s.Empty(completed.FailureReason)
	s.Equal(67, completed.Score)
}

func (s *RunSuite) TestRunDeadlineFailsRun() {
	s.evaluator.block = make(chan struct{}) // never closed; evaluators wait on ctx
	svc := New(s.store, store.NewInMemoryTxRunner(), s.catalog, s.evaluator,
		WithTimeouts(time.Hour, 50*time.Millisecond))

	a, err := svc.Create(s.ctx, s.tenantID, CreateRequest{
		FrameworkID:  "iso27001",
		TargetSystem: models.TargetSystem{Name: "billing-api"},
	})
	s.Require().NoError(err)

	_, err = svc.Run(s.ctx, s.tenantID, a.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))

	failed, getErr := svc.Get(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(getErr)
	s.Equal(models.StatusFailed, failed.Status)
	findings, listErr := s.store.ListFindings(s.ctx, a.ID, models.FindingQuery{})
	s.Require().NoError(listErr)
	s.Empty(findings)
}

func (s *RunSuite) TestCancelDuringRunWinsOverFinalize() {
	a := s.create()
	s.evaluator.block = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		_, runErr = s.service.Run(s.ctx, s.tenantID, a.ID)
	}()

	for {
		current, err := s.service.Get(s.ctx, s.tenantID, a.ID)
		s.Require().NoError(err)
		if current.Status == models.StatusInProgress {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, err := s.service.Cancel(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)

	close(s.evaluator.block)
	wg.Wait()

	s.True(dErrors.HasCode(runErr, dErrors.CodeInvalidState))
	final, err := s.service.Get(s.ctx, s.tenantID, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, final.Status, "cancel is the authoritative outcome")
	findings, err := s.store.ListFindings(s.ctx, a.ID, models.FindingQuery{})
	s.Require().NoError(err)
	s.Empty(findings)
}
