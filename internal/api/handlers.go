package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/certhub/mailer/internal/campaign"
	"github.com/certhub/mailer/internal/pkg/httputil"
	"github.com/certhub/mailer/internal/pkg/logger"
	"github.com/certhub/mailer/internal/token"
)

// Handlers holds the HTTP handlers for the campaign API.
type Handlers struct {
	svc *campaign.Service
	log *logger.Logger
}

// NewHandlers creates the API handler set.
func NewHandlers(svc *campaign.Service) *Handlers {
	return &Handlers{svc: svc, log: logger.With("api")}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// CreateCampaign handles POST /api/campaigns.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	c, err := h.svc.Create(r.Context(), input)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, c)
}

// ListCampaigns handles GET /api/campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	f := campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	out, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"campaigns": out,
		"total":     total,
	})
}

// GetCampaign handles GET /api/campaigns/{id}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// SendCampaign handles POST /api/campaigns/{id}/send. The send runs in
// the background; the response only acknowledges that it started. A
// campaign that is not in a sendable state is rejected up front.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !c.Sendable() {
		httputil.Conflict(w, fmt.Sprintf("campaign is %s", c.Status))
		return
	}

	go func() {
		if _, err := h.svc.Send(context.WithoutCancel(r.Context()), id); err != nil {
			h.log.Error("send failed", "campaign", id, "error", err)
		}
	}()

	httputil.Accepted(w, map[string]string{
		"campaign_id": id,
		"status":      "accepted",
	})
}

// CampaignStatus handles GET /api/campaigns/{id}/status.
func (h *Handlers) CampaignStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, report)
}

// RetryCampaign handles POST /api/campaigns/{id}/retry. Retry passes are
// bounded, so this one runs synchronously and returns the summary.
func (h *Handlers) RetryCampaign(w http.ResponseWriter, r *http.Request) {
	var opts campaign.RetryOptions
	if r.ContentLength > 0 && !httputil.Decode(w, r, &opts) {
		return
	}

	summary, err := h.svc.Retry(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, summary)
}

// CancelCampaign handles POST /api/campaigns/{id}/cancel.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{
		"campaign_id": id,
		"status":      "cancelling",
	})
}

// SendTestEmail handles POST /api/campaigns/{id}/test.
func (h *Handlers) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}

	if err := h.svc.SendTest(r.Context(), chi.URLParam(r, "id"), body.Email); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "sent"})
}

// StreamProgress handles GET /api/campaigns/{id}/events as server-sent
// events. One event per completed batch until the client disconnects.
func (h *Handlers) StreamProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusNotImplemented, "streaming unsupported")
		return
	}

	id := chi.URLParam(r, "id")
	ch := h.svc.Progress().Subscribe(16)
	defer h.svc.Progress().Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.CampaignID != id {
				continue
			}
			fmt.Fprintf(w, "data: {\"campaign_id\":%q,\"processed\":%d,\"total\":%d,\"succeeded\":%d}\n\n",
				ev.CampaignID, ev.Processed, ev.Total, ev.Succeeded)
			flusher.Flush()
		}
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrInvalidState):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, campaign.ErrNoRecipients):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, token.ErrReauthenticationRequired):
		httputil.Error(w, http.StatusUnauthorized, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
