package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/httputil"
	"github.com/lettora/crm-engine/internal/service/campaign"
)

func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := campaign.ListFilter{
		Status: q.Get("status"),
		Type:   q.Get("type"),
		Search: q.Get("search"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	campaigns, total, err := h.campaigns.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"campaigns": campaigns,
		"total":     total,
	})
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	c, stats, err := h.campaigns.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"campaign_id":        c.ID,
		"status":             c.Status,
		"sent_count":         c.SentCount,
		"delivered_count":    c.DeliveredCount,
		"opened_count":       c.OpenedCount,
		"clicked_count":      c.ClickedCount,
		"bounced_count":      c.BouncedCount,
		"unsubscribed_count": c.UnsubscribedCount,
		"stats":              stats,
	})
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	c, err := h.campaigns.Create(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, c)
}

type campaignUpdateRequest struct {
	Name           *string                  `json:"name"`
	Type           *domain.CampaignType     `json:"type"`
	TemplateID     *string                  `json:"template_id"`
	TargetAudience *domain.TargetAudience   `json:"target_audience"`
	Content        *domain.CampaignContent  `json:"content"`
	Schedule       *domain.CampaignSchedule `json:"schedule"`
	TrackOpens     *bool                    `json:"track_opens"`
	TrackClicks    *bool                    `json:"track_clicks"`
	Status         *domain.CampaignStatus   `json:"status"`
}

func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignUpdateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	c, err := h.campaigns.Update(r.Context(), chi.URLParam(r, "id"), campaign.UpdateFields{
		Name:           req.Name,
		Type:           req.Type,
		TemplateID:     req.TemplateID,
		TargetAudience: req.TargetAudience,
		Content:        req.Content,
		Schedule:       req.Schedule,
		TrackOpens:     req.TrackOpens,
		TrackClicks:    req.TrackClicks,
		Status:         req.Status,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Launch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.campaigns.Pause)
}

func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.campaigns.Resume)
}

func (h *Handlers) StopCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.campaigns.Stop)
}

func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.campaigns.Cancel)
}

func (h *Handlers) lifecycleAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := action(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

type scheduleRequest struct {
	SendAt time.Time `json:"send_at" validate:"required"`
}

func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.FieldError(w, "send_at is required", "send_at")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.campaigns.Schedule(r.Context(), id, req.SendAt); err != nil {
		writeServiceError(w, err)
		return
	}
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) ConfigureABTest(w http.ResponseWriter, r *http.Request) {
	var settings domain.ABTestSettings
	if !httputil.Decode(w, r, &settings) {
		return
	}

	c, err := h.campaigns.ConfigureABTest(r.Context(), chi.URLParam(r, "id"), settings)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) EvaluateABTest(w http.ResponseWriter, r *http.Request) {
	result, err := h.campaigns.EvaluateABTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, result)
}
