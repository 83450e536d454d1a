package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	"github.com/adverant/nexus-compliance/internal/assessment/ports"
	"github.com/adverant/nexus-compliance/internal/assessment/service"
	"github.com/adverant/nexus-compliance/internal/assessment/store"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	"github.com/adverant/nexus-compliance/pkg/platform/sentinel"
	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

type stubCatalog struct{}

func (stubCatalog) GetFramework(_ context.Context, frameworkID id.FrameworkID) (ports.Framework, error) {
	if frameworkID != "iso27001" {
		return ports.Framework{}, sentinel.ErrNotFound
	}
	return ports.Framework{ID: frameworkID, Name: "ISO/IEC 27001", Active: true, Module: "iso27001"}, nil
}

func (stubCatalog) ListControls(_ context.Context, frameworkID id.FrameworkID, _ []string, _ []id.ControlID) ([]ports.Control, error) {
	if frameworkID != "iso27001" {
		return nil, sentinel.ErrNotFound
	}
	return []ports.Control{
		{ID: "C-1", Domain: "access", Title: "Access reviews", ImplementationPriority: 90},
		{ID: "C-2", Domain: "data", Title: "Backup testing", ImplementationPriority: 40},
	}, nil
}

type stubEvaluator struct{}

func (stubEvaluator) Model() string { return "stub" }

func (stubEvaluator) Evaluate(_ context.Context, req ports.EvaluationRequest) (ports.EvaluationResult, error) {
	if req.Control.ID == "C-1" {
		return ports.EvaluationResult{Status: models.FindingCompliant, Confidence: 0.9}, nil
	}
	major := models.SeverityMajor
	return ports.EvaluationResult{Status: models.FindingNonCompliant, Severity: &major, Confidence: 0.7}, nil
}

func newAssessmentRouter(t *testing.T) *chi.Mux {
	t.Helper()
	svc := service.New(store.NewInMemory(), store.NewInMemoryTxRunner(), stubCatalog{}, stubEvaluator{})
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tenantID := id.NewTenantID()
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTenantID(r.Context(), tenantID)
			ctx = requestcontext.WithUserID(ctx, id.NewUserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	h.Register(router)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createAssessment(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/assessments/", map[string]any{
		"framework_id":  "iso27001",
		"target_system": "billing-api",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating assessment, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return resp.ID
}

func TestCreateAndRunLifecycle(t *testing.T) {
	router := newAssessmentRouter(t)
	assessmentID := createAssessment(t, router)

	rec := doJSON(t, router, http.MethodPost, "/assessments/"+assessmentID+"/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 running assessment, got %d: %s", rec.Code, rec.Body.String())
	}
	var run struct {
		Status    string `json:"status"`
		Score     int    `json:"score"`
		RiskLevel string `json:"risk_level"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("failed to decode run response: %v", err)
	}
	if run.Status != "completed" {
		t.Fatalf("expected completed status, got %s", run.Status)
	}
	if run.Score != 50 {
		t.Fatalf("expected score 50 (1 of 2 compliant), got %d", run.Score)
	}
	if run.RiskLevel != "high" {
		t.Fatalf("expected high risk, got %s", run.RiskLevel)
	}

	// Second run conflicts.
	rec = doJSON(t, router, http.MethodPost, "/assessments/"+assessmentID+"/run", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 re-running completed assessment, got %d", rec.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	router := newAssessmentRouter(t)

	t.Run("unknown framework", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/assessments/", map[string]any{
			"framework_id":  "pci-dss",
			"target_system": "billing-api",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for unknown framework, got %d", rec.Code)
		}
	})

	t.Run("missing target system", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/assessments/", map[string]any{
			"framework_id": "iso27001",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for missing target, got %d", rec.Code)
		}
	})
}

func TestListAssessments(t *testing.T) {
	router := newAssessmentRouter(t)
	createAssessment(t, router)
	createAssessment(t, router)

	rec := doJSON(t, router, http.MethodGet, "/assessments/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing assessments, got %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode list response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 assessments, got %d", resp.Count)
	}

	rec = doJSON(t, router, http.MethodGet, "/assessments/?status=completed", nil)
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode filtered response: %v", err)
	}
	if resp.Count != 0 {
		t.Fatalf("expected 0 completed assessments, got %d", resp.Count)
	}
}

func TestFindingsEndpoints(t *testing.T) {
	router := newAssessmentRouter(t)
	assessmentID := createAssessment(t, router)
	doJSON(t, router, http.MethodPost, "/assessments/"+assessmentID+"/run", nil)

	rec := doJSON(t, router, http.MethodGet, "/assessments/"+assessmentID+"/findings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing findings, got %d", rec.Code)
	}
	var findings struct {
		Count    int `json:"count"`
		Findings []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"findings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&findings); err != nil {
		t.Fatalf("failed to decode findings: %v", err)
	}
	if findings.Count != 2 {
		t.Fatalf("expected 2 findings, got %d", findings.Count)
	}

	var nonCompliantID string
	for _, f := range findings.Findings {
		if f.Status == "non_compliant" {
			nonCompliantID = f.ID
		}
	}
	rec = doJSON(t, router, http.MethodPatch, "/assessments/"+assessmentID+"/findings/"+nonCompliantID, map[string]any{
		"status": "compliant",
		"notes":  "compensating control verified",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 updating finding, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Status string `json:"status"`
		Human  *struct {
			Notes string `json:"notes"`
		} `json:"human_verification"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("failed to decode updated finding: %v", err)
	}
	if updated.Status != "compliant" || updated.Human == nil {
		t.Fatalf("expected human-verified compliant finding, got %+v", updated)
	}

	// Explicit recompute reflects the override.
	rec = doJSON(t, router, http.MethodPost, "/assessments/"+assessmentID+"/recompute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 recomputing, got %d", rec.Code)
	}
	var rescored struct {
		Score int `json:"score"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&rescored); err != nil {
		t.Fatalf("failed to decode rescored assessment: %v", err)
	}
	if rescored.Score != 100 {
		t.Fatalf("expected score 100 after recompute, got %d", rescored.Score)
	}
}

func TestCancelEndpoint(t *testing.T) {
	router := newAssessmentRouter(t)
	assessmentID := createAssessment(t, router)

	rec := doJSON(t, router, http.MethodPost, "/assessments/"+assessmentID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 cancelling, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode cancel response: %v", err)
	}
	if resp.Status != "cancelled" {
		t.Fatalf("expected cancelled status, got %s", resp.Status)
	}
}

func TestInvalidAssessmentID(t *testing.T) {
	router := newAssessmentRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/assessments/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}
