// Package handler exposes the compliance configuration endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adverant/nexus-compliance/internal/compliance/models"
	"github.com/adverant/nexus-compliance/internal/compliance/service"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/platform/httputil"
	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

// Service defines the configuration operations the handler needs.
type Service interface {
	GetConfig(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, error)
	ToggleMaster(ctx context.Context, tenantID id.TenantID, req service.ToggleMasterRequest) (*models.ComplianceConfig, error)
	ToggleModule(ctx context.Context, tenantID id.TenantID, req service.ToggleModuleRequest) (*models.ComplianceConfig, error)
	GetAuditLog(ctx context.Context, tenantID id.TenantID, query models.AuditQuery) ([]models.ConfigAudit, error)
	IsEnabled(ctx context.Context, tenantID id.TenantID, module models.ModuleName, feature string) (bool, error)
}

// Handler handles compliance configuration endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a new compliance configuration Handler.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: svc}
}

// Register registers the configuration routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/compliance", func(r chi.Router) {
		r.Get("/config", h.handleGetConfig)
		r.Put("/config/master", h.handleToggleMaster)
		r.Put("/config/modules/{module}", h.handleToggleModule)
		r.Put("/config/modules/{module}/features/{feature}", h.handleToggleFeature)
		r.Get("/config/audit", h.handleGetAuditLog)
		r.Get("/gate/{module}", h.handleGateCheck)
	})
}

// tenantFromContext resolves the authenticated tenant, failing closed when
// the auth middleware did not run.
func (h *Handler) tenantFromContext(w http.ResponseWriter, r *http.Request) (id.TenantID, bool) {
	tenantID := requestcontext.TenantID(r.Context())
	if tenantID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "tenant authentication required"))
		return id.TenantID{}, false
	}
	return tenantID, true
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	cfg, err := h.service.GetConfig(ctx, tenantID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to get config", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newConfigResponse(cfg))
}

func (h *Handler) handleToggleMaster(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[toggleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.Enabled == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "enabled is required"))
		return
	}

	cfg, err := h.service.ToggleMaster(ctx, tenantID, service.ToggleMasterRequest{
		Enabled: *req.Enabled,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "failed to toggle master switch", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newConfigResponse(cfg))
}

func (h *Handler) handleToggleModule(w http.ResponseWriter, r *http.Request) {
	h.toggleModule(w, r, nil)
}

func (h *Handler) handleToggleFeature(w http.ResponseWriter, r *http.Request) {
	feature := chi.URLParam(r, "feature")
	h.toggleModule(w, r, &feature)
}

func (h *Handler) toggleModule(w http.ResponseWriter, r *http.Request, feature *string) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[toggleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.Enabled == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "enabled is required"))
		return
	}

	cfg, err := h.service.ToggleModule(ctx, tenantID, service.ToggleModuleRequest{
		Module:  models.ModuleName(chi.URLParam(r, "module")),
		Feature: feature,
		Enabled: *req.Enabled,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "failed to toggle module", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newConfigResponse(cfg))
}

func (h *Handler) handleGetAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	entries, err := h.service.GetAuditLog(ctx, tenantID, auditQueryFromRequest(r))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list audit trail", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newAuditResponse(entries))
}

func (h *Handler) handleGateCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	module := models.ModuleName(chi.URLParam(r, "module"))
	feature := r.URL.Query().Get("feature")

	enabled, err := h.service.IsEnabled(ctx, tenantID, module, feature)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to evaluate gate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, gateResponse{
		Module:  module,
		Feature: feature,
		Enabled: enabled,
	})
}

// writeServiceError logs unexpected failures and translates the error onto
// the response. Coded client errors pass through without an error log.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
