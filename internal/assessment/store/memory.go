package store

import (
	"context"
	"sync"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
)

const defaultPageSize = 50

// InMemory keeps assessments and findings in maps, for unit tests and
// database-less development runs.
type InMemory struct {
	mu          sync.RWMutex
	assessments map[id.AssessmentID]*models.Assessment
	findings    map[id.AssessmentID][]models.Finding
	order       []id.AssessmentID
}

func NewInMemory() *InMemory {
	return &InMemory{
		assessments: make(map[id.AssessmentID]*models.Assessment),
		findings:    make(map[id.AssessmentID][]models.Finding),
	}
}

func cloneAssessment(a *models.Assessment) *models.Assessment {
	clone := *a
	clone.Scope = append([]string{}, a.Scope...)
	clone.ExcludedControls = append([]id.ControlID{}, a.ExcludedControls...)
	if a.FindingsBySeverity != nil {
		clone.FindingsBySeverity = make(map[models.Severity]int, len(a.FindingsBySeverity))
		for k, v := range a.FindingsBySeverity {
			clone.FindingsBySeverity[k] = v
		}
	}
	if a.Review != nil {
		review := *a.Review
		clone.Review = &review
	}
	return &clone
}

func (s *InMemory) CreateAssessment(_ context.Context, a *models.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assessments[a.ID]; exists {
		return sentinel.ErrConflict
	}
	s.assessments[a.ID] = cloneAssessment(a)
	s.order = append(s.order, a.ID)
	return nil
}

func (s *InMemory) GetAssessment(_ context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[assessmentID]
	if !ok || a.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return cloneAssessment(a), nil
}

func (s *InMemory) GetAssessmentForUpdate(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error) {
	return s.GetAssessment(ctx, tenantID, assessmentID)
}

func (s *InMemory) UpdateAssessment(_ context.Context, a *models.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.assessments[a.ID]
	if !ok || existing.TenantID != a.TenantID {
		return sentinel.ErrNotFound
	}
	s.assessments[a.ID] = cloneAssessment(a)
	return nil
}

func (s *InMemory) ListAssessments(_ context.Context, tenantID id.TenantID, query models.AssessmentQuery) ([]models.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first by insertion order.
	matched := []models.Assessment{}
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.assessments[s.order[i]]
		if a.TenantID != tenantID {
			continue
		}
		if query.Status != nil && a.Status != *query.Status {
			continue
		}
		matched = append(matched, *cloneAssessment(a))
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if query.Offset >= len(matched) {
		return []models.Assessment{}, nil
	}
	end := query.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[query.Offset:end], nil
}

func (s *InMemory) InsertFindings(_ context.Context, findings []models.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range findings {
		for _, existing := range s.findings[f.AssessmentID] {
			if existing.ControlID == f.ControlID {
				return sentinel.ErrConflict
			}
		}
		s.findings[f.AssessmentID] = append(s.findings[f.AssessmentID], f)
	}
	return nil
}

func (s *InMemory) ListFindings(_ context.Context, assessmentID id.AssessmentID, query models.FindingQuery) ([]models.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []models.Finding{}
	for _, f := range s.findings[assessmentID] {
		if query.Status != nil && f.Status != *query.Status {
			continue
		}
		if query.Severity != nil && (f.Severity == nil || *f.Severity != *query.Severity) {
			continue
		}
		matched = append(matched, f)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if query.Offset >= len(matched) {
		return []models.Finding{}, nil
	}
	end := query.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[query.Offset:end], nil
}

func (s *InMemory) GetFinding(_ context.Context, assessmentID id.AssessmentID, findingID id.FindingID) (*models.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.findings[assessmentID] {
		if f.ID == findingID {
			found := f
			return &found, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) UpdateFinding(_ context.Context, f *models.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trail := s.findings[f.AssessmentID]
	for i := range trail {
		if trail[i].ID == f.ID {
			trail[i] = *f
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// InMemoryTxRunner serializes lifecycle mutations with a coarse lock,
// standing in for the postgres runner's row locks.
type InMemoryTxRunner struct {
	mu sync.Mutex
}

func NewInMemoryTxRunner() *InMemoryTxRunner {
	return &InMemoryTxRunner{}
}

func (t *InMemoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}
