// Package handler exposes the assessment endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	"github.com/adverant/nexus-compliance/internal/assessment/service"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/httputil"
	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

// Service defines the assessment operations the handler needs.
type Service interface {
	Create(ctx context.Context, tenantID id.TenantID, req service.CreateRequest) (*models.Assessment, error)
	Get(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error)
	List(ctx context.Context, tenantID id.TenantID, query models.AssessmentQuery) ([]models.Assessment, error)
	Run(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error)
	Cancel(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error)
	Review(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID, notes string) (*models.Assessment, error)
	RecomputeScore(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID) (*models.Assessment, error)
	GetFindings(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID, query models.FindingQuery) ([]models.Finding, error)
	UpdateFinding(ctx context.Context, tenantID id.TenantID, assessmentID id.AssessmentID, findingID id.FindingID, update models.FindingUpdate) (*models.Finding, error)
}

// Handler handles assessment endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a new assessment Handler.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: svc}
}

// Register registers the assessment routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/assessments", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Route("/{assessmentID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/run", h.handleRun)
			r.Post("/cancel", h.handleCancel)
			r.Post("/review", h.handleReview)
			r.Post("/recompute", h.handleRecompute)
			r.Get("/findings", h.handleGetFindings)
			r.Patch("/findings/{findingID}", h.handleUpdateFinding)
		})
	})
}

func (h *Handler) tenantFromContext(w http.ResponseWriter, r *http.Request) (id.TenantID, bool) {
	tenantID := requestcontext.TenantID(r.Context())
	if tenantID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "tenant authentication required"))
		return id.TenantID{}, false
	}
	return tenantID, true
}

func assessmentIDFromURL(w http.ResponseWriter, r *http.Request) (id.AssessmentID, bool) {
	assessmentID, err := id.ParseAssessmentID(chi.URLParam(r, "assessmentID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid assessment id"))
		return id.AssessmentID{}, false
	}
	return assessmentID, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	assessment, err := h.service.Create(ctx, tenantID, req.toServiceRequest())
	if err != nil {
		h.writeServiceError(ctx, w, "failed to create assessment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, assessment)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	list, err := h.service.List(ctx, tenantID, assessmentQueryFromRequest(r))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list assessments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Assessments: list, Count: len(list)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.assessmentAction(w, r, h.service.Get, http.StatusOK, "failed to get assessment")
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	h.assessmentAction(w, r, h.service.Run, http.StatusOK, "failed to run assessment")
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.assessmentAction(w, r, h.service.Cancel, http.StatusOK, "failed to cancel assessment")
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	h.assessmentAction(w, r, h.service.RecomputeScore, http.StatusOK, "failed to recompute score")
}

// assessmentAction factors the shared shape of id-addressed operations.
func (h *Handler) assessmentAction(
	w http.ResponseWriter, r *http.Request,
	op func(context.Context, id.TenantID, id.AssessmentID) (*models.Assessment, error),
	status int, errMsg string,
) {
	ctx := r.Context()
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentIDFromURL(w, r)
	if !ok {
		return
	}

	assessment, err := op(ctx, tenantID, assessmentID)
	if err != nil {
		h.writeServiceError(ctx, w, errMsg, err)
		return
	}
	httputil.WriteJSON(w, status, assessment)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentIDFromURL(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[reviewRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	assessment, err := h.service.Review(ctx, tenantID, assessmentID, req.Notes)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to review assessment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assessment)
}

func (h *Handler) handleGetFindings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentIDFromURL(w, r)
	if !ok {
		return
	}

	findings, err := h.service.GetFindings(ctx, tenantID, assessmentID, findingQueryFromRequest(r))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list findings", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, findingsResponse{Findings: findings, Count: len(findings)})
}

func (h *Handler) handleUpdateFinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentIDFromURL(w, r)
	if !ok {
		return
	}
	findingID, err := id.ParseFindingID(chi.URLParam(r, "findingID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid finding id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[updateFindingRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	finding, err := h.service.UpdateFinding(ctx, tenantID, assessmentID, findingID, req.toUpdate())
	if err != nil {
		h.writeServiceError(ctx, w, "failed to update finding", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, finding)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
