package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sparkpost-monitor/internal/pkg/httputil"
	"github.com/ignite/sparkpost-monitor/internal/service/verification"
)

// VerifyHandlers exposes the deliverability verification pipeline over
// HTTP. It is a thin translation layer: all business logic lives in
// internal/service/verification.
type VerifyHandlers struct {
	svc *verification.Service
}

// NewVerifyHandlers wires handlers onto a running Service.
func NewVerifyHandlers(svc *verification.Service) *VerifyHandlers {
	return &VerifyHandlers{svc: svc}
}

// Routes mounts the verification endpoints on r.
func (h *VerifyHandlers) Routes(r chi.Router) {
	r.Post("/v1/verify", h.Submit)
	r.Get("/v1/verify/{request_id}", h.GetStatus)
	r.Get("/v1/verify/{request_id}/results", h.GetResults)
}

type submitRequest struct {
	RequestID   string   `json:"request_id,omitempty"`
	Emails      []string `json:"emails"`
	ResponseURL string   `json:"response_url,omitempty"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Submit handles POST /v1/verify — enqueue a batch for verification.
func (h *VerifyHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	requestID, err := h.svc.Submit(r.Context(), req.RequestID, req.Emails, req.ResponseURL)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrEmptyBatch):
			httputil.BadRequest(w, "emails must be non-empty")
		case errors.Is(err, verification.ErrDuplicateRequest):
			httputil.Error(w, http.StatusConflict, "request_id already queued")
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.Created(w, submitResponse{RequestID: requestID, Status: "queued"})
}

// GetStatus handles GET /v1/verify/{request_id} — coarse progress only.
func (h *VerifyHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	res, err := h.svc.Get(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, verification.ErrNotFound) {
			httputil.NotFound(w, "request not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"request_id":       res.RequestID,
		"status":           res.Status,
		"progress":         res.ProgressStep(),
		"total_emails":     res.TotalEmails,
		"completed_emails": res.CompletedEmails,
	})
}

// GetResults handles GET /v1/verify/{request_id}/results — the full
// per-email record set, paginated.
func (h *VerifyHandlers) GetResults(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	res, err := h.svc.Get(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, verification.ErrNotFound) {
			httputil.NotFound(w, "request not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	params := ParsePagination(r, 50, 500)
	start := params.Offset
	if start > len(res.Results) {
		start = len(res.Results)
	}
	end := start + params.Limit
	if end > len(res.Results) {
		end = len(res.Results)
	}

	httputil.OK(w, NewPaginatedResponse(res.Results[start:end], params, int64(len(res.Results))))
}
