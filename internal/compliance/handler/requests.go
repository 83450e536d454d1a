package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/adverant/nexus-compliance/internal/compliance/models"
)

// toggleRequest is the body for master, module, and feature toggles. Enabled
// is a pointer so a missing field is distinguishable from false.
type toggleRequest struct {
	Enabled *bool  `json:"enabled"`
	Reason  string `json:"reason"`
}

type configResponse struct {
	ID            string                                    `json:"id"`
	TenantID      string                                    `json:"tenant_id"`
	MasterEnabled bool                                      `json:"master_enabled"`
	Modules       map[models.ModuleName]models.ModuleConfig `json:"modules"`
	CreatedAt     time.Time                                 `json:"created_at"`
	UpdatedAt     time.Time                                 `json:"updated_at"`
}

func newConfigResponse(cfg *models.ComplianceConfig) configResponse {
	return configResponse{
		ID:            cfg.ID.String(),
		TenantID:      cfg.TenantID.String(),
		MasterEnabled: cfg.MasterEnabled,
		Modules:       cfg.Modules,
		CreatedAt:     cfg.CreatedAt,
		UpdatedAt:     cfg.UpdatedAt,
	}
}

type gateResponse struct {
	Module  models.ModuleName `json:"module"`
	Feature string            `json:"feature,omitempty"`
	Enabled bool              `json:"enabled"`
}

type auditResponse struct {
	Entries []models.ConfigAudit `json:"entries"`
	Count   int                  `json:"count"`
}

func newAuditResponse(entries []models.ConfigAudit) auditResponse {
	return auditResponse{Entries: entries, Count: len(entries)}
}

// auditQueryFromRequest reads pagination and filters from the query string.
// Bad numeric values fall back to defaults rather than erroring.
func auditQueryFromRequest(r *http.Request) models.AuditQuery {
	q := r.URL.Query()
	query := models.AuditQuery{}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		query.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		query.Offset = v
	}
	if v := q.Get("action"); v != "" {
		action := models.AuditAction(v)
		query.Action = &action
	}
	if v := q.Get("module"); v != "" {
		module := models.ModuleName(v)
		query.Module = &module
	}
	return query
}
