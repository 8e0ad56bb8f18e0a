// Package api serves the management HTTP surface: campaigns, leads,
// templates, direct sends and delivery callbacks.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/httputil"
	"github.com/lettora/crm-engine/internal/service/campaign"
	"github.com/lettora/crm-engine/internal/service/dispatch"
	"github.com/lettora/crm-engine/internal/service/engagement"
	"github.com/lettora/crm-engine/internal/service/leads"
)

// TemplateStore is the CRUD surface behind the template endpoints.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	ListTemplates(ctx context.Context) ([]domain.EmailTemplate, error)
	CreateTemplate(ctx context.Context, t *domain.EmailTemplate) (string, error)
	UpdateTemplate(ctx context.Context, t *domain.EmailTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// SendOps is the direct send surface exposed by the dispatch pipeline.
type SendOps interface {
	SendTest(ctx context.Context, input dispatch.TestSendInput) (*domain.SendResult, error)
	SendBulk(ctx context.Context, input dispatch.BulkSendInput) (*dispatch.BulkSendResult, error)
}

// Handlers bundles the services behind the API routes.
type Handlers struct {
	campaigns  *campaign.Service
	leads      *leads.Service
	engagement *engagement.Service
	sender     SendOps
	templates  TemplateStore
	validate   *validator.Validate
}

// NewHandlers creates the API handler set.
func NewHandlers(campaigns *campaign.Service, leadSvc *leads.Service, eng *engagement.Service, sender SendOps, templates TemplateStore) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		leads:      leadSvc,
		engagement: eng,
		sender:     sender,
		templates:  templates,
		validate:   validator.New(),
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// writeServiceError maps service errors onto the API's error envelope:
// validation failures are 400s naming the field, rejected lifecycle
// transitions are 409s, unknown ids are 404s.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *campaign.ValidationError
	if errors.As(err, &verr) {
		httputil.FieldError(w, verr.Message, verr.Field)
		return
	}
	var terr *campaign.TransitionError
	if errors.As(err, &terr) {
		httputil.Conflict(w, terr.Error())
		return
	}
	if errors.Is(err, campaign.ErrNotFound) || errors.Is(err, leads.ErrNotFound) ||
		errors.Is(err, engagement.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalError(w, err)
}
