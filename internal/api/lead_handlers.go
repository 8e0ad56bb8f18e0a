package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lettora/crm-engine/internal/pkg/httputil"
	"github.com/lettora/crm-engine/internal/service/leads"
)

func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leads.ListFilter{
		Status: q.Get("status"),
		Source: q.Get("source"),
		Search: q.Get("search"),
	}
	if v := q.Get("qualified"); v != "" {
		qualified := v == "true"
		filter.Qualified = &qualified
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, total, err := h.leads.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"leads": list,
		"total": total,
	})
}

func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.leads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, l)
}

// leadCreateRequest mirrors leads.CreateInput with request validation
// tags. The email requirement is enforced here so the error names the
// field before the service is involved.
type leadCreateRequest struct {
	leads.CreateInput
	Email string `json:"email" validate:"required,email"`
}

func (h *Handlers) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req leadCreateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.FieldError(w, "a valid email is required", "email")
		return
	}
	req.CreateInput.Email = req.Email

	l, err := h.leads.Create(r.Context(), req.CreateInput)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, l)
}

func (h *Handlers) UpdateLead(w http.ResponseWriter, r *http.Request) {
	var input leads.UpdateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	l, err := h.leads.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, l)
}

func (h *Handlers) DeleteLead(w http.ResponseWriter, r *http.Request) {
	if err := h.leads.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

type qualifyRequest struct {
	Score int `json:"score"`
}

// QualifyLead applies a manual score override.
func (h *Handlers) QualifyLead(w http.ResponseWriter, r *http.Request) {
	var req qualifyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Score < 0 || req.Score > 100 {
		httputil.FieldError(w, "score must be in [0,100]", "score")
		return
	}

	l, err := h.leads.QualifyLead(r.Context(), chi.URLParam(r, "id"), req.Score)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, l)
}

func (h *Handlers) ListLeadActivities(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	activities, err := h.leads.Activities(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"activities": activities})
}
