package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
)

func newPendingAssessment() *Assessment {
	return &Assessment{
		ID:          id.NewAssessmentID(),
		TenantID:    id.NewTenantID(),
		FrameworkID: "iso27001",
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestRunTransitions(t *testing.T) {
	now := time.Now()

	t.Run("pending can run", func(t *testing.T) {
		a := newPendingAssessment()
		require.NoError(t, a.CanRun())
		a.ApplyStart(now)
		assert.Equal(t, StatusInProgress, a.Status)
		require.NotNil(t, a.StartedAt)
	})

	t.Run("failed can re-run and clears failure state", func(t *testing.T) {
		a := newPendingAssessment()
		a.ApplyStart(now)
		a.ApplyFailure("evaluator credentials missing", now)
		assert.Equal(t, StatusFailed, a.Status)

		require.NoError(t, a.CanRun())
		a.ApplyStart(now.Add(time.Minute))
		assert.Empty(t, a.FailureReason)
		assert.Nil(t, a.CompletedAt)
	})

	t.Run("in_progress and terminal states reject run", func(t *testing.T) {
		for _, status := range []Status{StatusInProgress, StatusCompleted, StatusCancelled} {
			a := newPendingAssessment()
			a.Status = status
			err := a.CanRun()
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState), "status %s", status)
		}
	})

	t.Run("completion records aggregates", func(t *testing.T) {
		a := newPendingAssessment()
		a.ApplyStart(now)
		a.ApplyCompletion(
			Counters{ControlsAssessed: 3, CompliantControls: 2, NonCompliantControls: 1},
			map[Severity]int{SeverityMajor: 1},
			67, RiskHigh,
			AIMetadata{Model: "unassisted", Requested: false},
			now,
		)
		assert.Equal(t, StatusCompleted, a.Status)
		assert.Equal(t, 67, a.Score)
		assert.Equal(t, RiskHigh, a.RiskLevel)
		assert.True(t, a.Status.Terminal())
	})
}

func TestCancelTransitions(t *testing.T) {
	t.Run("pending and in_progress cancel", func(t *testing.T) {
		for _, status := range []Status{StatusPending, StatusInProgress} {
			a := newPendingAssessment()
			a.Status = status
			require.NoError(t, a.CanCancel())
			a.ApplyCancel(time.Now())
			assert.Equal(t, StatusCancelled, a.Status)
		}
	})

	t.Run("terminal states reject cancel", func(t *testing.T) {
		for _, status := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
			a := newPendingAssessment()
			a.Status = status
			assert.True(t, dErrors.HasCode(a.CanCancel(), dErrors.CodeInvalidState), "status %s", status)
		}
	})
}

func TestFindingUpdate(t *testing.T) {
	newFinding := func() *Finding {
		return &Finding{
			ID:           id.NewFindingID(),
			AssessmentID: id.NewAssessmentID(),
			ControlID:    "A.8.2",
			Status:       FindingNonCompliant,
		}
	}
	verifier := id.NewUserID()
	now := time.Now()

	t.Run("override sets human verification", func(t *testing.T) {
		f := newFinding()
		status := FindingCompliant
		require.NoError(t, f.ApplyUpdate(FindingUpdate{Status: &status, Notes: "verified on site"}, verifier, now))

		assert.Equal(t, FindingCompliant, f.Status)
		require.NotNil(t, f.Human)
		assert.Equal(t, verifier, f.Human.VerifiedBy)
		assert.Equal(t, "verified on site", f.Human.Notes)
	})

	t.Run("nil fields are untouched", func(t *testing.T) {
		f := newFinding()
		sev := SeverityMinor
		f.Severity = &sev
		require.NoError(t, f.ApplyUpdate(FindingUpdate{Notes: "confirmed as-is"}, verifier, now))
		assert.Equal(t, FindingNonCompliant, f.Status)
		assert.Equal(t, SeverityMinor, *f.Severity)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		f := newFinding()
		bad := FindingStatus("maybe")
		err := f.ApplyUpdate(FindingUpdate{Status: &bad}, verifier, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
		assert.Nil(t, f.Human)
	})

	t.Run("unknown severity rejected", func(t *testing.T) {
		f := newFinding()
		bad := Severity("catastrophic")
		err := f.ApplyUpdate(FindingUpdate{Severity: &bad}, verifier, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}
