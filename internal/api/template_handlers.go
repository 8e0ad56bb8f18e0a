package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/httputil"
	"github.com/lettora/crm-engine/internal/repository/postgres"
)

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.ListTemplates(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"templates": templates})
}

func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeTemplateError(w, err)
		return
	}
	httputil.OK(w, t)
}

type templateRequest struct {
	Name     string `json:"name" validate:"required"`
	Subject  string `json:"subject" validate:"required"`
	HTMLBody string `json:"html_body" validate:"required"`
	TextBody string `json:"text_body"`
}

func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	t := &domain.EmailTemplate{
		Name:      req.Name,
		Subject:   req.Subject,
		HTMLBody:  req.HTMLBody,
		TextBody:  req.TextBody,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := h.templates.CreateTemplate(r.Context(), t); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, t)
}

func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	t := &domain.EmailTemplate{
		ID:        chi.URLParam(r, "id"),
		Name:      req.Name,
		Subject:   req.Subject,
		HTMLBody:  req.HTMLBody,
		TextBody:  req.TextBody,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.templates.UpdateTemplate(r.Context(), t); err != nil {
		writeTemplateError(w, err)
		return
	}
	httputil.OK(w, t)
}

func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.templates.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeTemplateError(w, err)
		return
	}
	httputil.NoContent(w)
}

func writeTemplateError(w http.ResponseWriter, err error) {
	if errors.Is(err, postgres.ErrTemplateNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalError(w, err)
}
