package handler

import (
	"net/http"
	"strconv"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
	"github.com/adverant/nexus-compliance/internal/assessment/service"
	id "github.com/adverant/nexus-compliance/pkg/domain"
)

type createRequest struct {
	FrameworkID      string   `json:"framework_id"`
	TargetSystem     string   `json:"target_system"`
	TargetDesc       string   `json:"target_description,omitempty"`
	Scope            []string `json:"scope,omitempty"`
	ExcludedControls []string `json:"excluded_controls,omitempty"`
	UseAI            bool     `json:"use_ai,omitempty"`
}

func (r createRequest) toServiceRequest() service.CreateRequest {
	excluded := make([]id.ControlID, len(r.ExcludedControls))
	for i, cid := range r.ExcludedControls {
		excluded[i] = id.ControlID(cid)
	}
	return service.CreateRequest{
		FrameworkID: id.FrameworkID(r.FrameworkID),
		TargetSystem: models.TargetSystem{
			Name:        r.TargetSystem,
			Description: r.TargetDesc,
		},
		Scope:            r.Scope,
		ExcludedControls: excluded,
		UseAI:            r.UseAI,
	}
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

type updateFindingRequest struct {
	Status      *string             `json:"status,omitempty"`
	Severity    *string             `json:"severity,omitempty"`
	Remediation *models.Remediation `json:"remediation,omitempty"`
	Notes       string              `json:"notes,omitempty"`
}

func (r updateFindingRequest) toUpdate() models.FindingUpdate {
	update := models.FindingUpdate{
		Remediation: r.Remediation,
		Notes:       r.Notes,
	}
	if r.Status != nil {
		status := models.FindingStatus(*r.Status)
		update.Status = &status
	}
	if r.Severity != nil {
		severity := models.Severity(*r.Severity)
		update.Severity = &severity
	}
	return update
}

type listResponse struct {
	Assessments []models.Assessment `json:"assessments"`
	Count       int                 `json:"count"`
}

type findingsResponse struct {
	Findings []models.Finding `json:"findings"`
	Count    int              `json:"count"`
}

func pagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func assessmentQueryFromRequest(r *http.Request) models.AssessmentQuery {
	query := models.AssessmentQuery{}
	query.Limit, query.Offset = pagination(r)
	if v := r.URL.Query().Get("status"); v != "" {
		status := models.Status(v)
		query.Status = &status
	}
	return query
}

func findingQueryFromRequest(r *http.Request) models.FindingQuery {
	query := models.FindingQuery{}
	query.Limit, query.Offset = pagination(r)
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := models.FindingStatus(v)
		query.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := models.Severity(v)
		query.Severity = &severity
	}
	return query
}
