package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/httputil"
	"github.com/lettora/crm-engine/internal/repository/postgres"
	"github.com/lettora/crm-engine/internal/service/dispatch"
)

// SendTestEmail delivers a template to one address with a [TEST] subject
// prefix. No campaign record is created.
func (h *Handlers) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	var input dispatch.TestSendInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	if input.TestEmail == "" {
		httputil.FieldError(w, "test_email is required", "test_email")
		return
	}

	result, err := h.sender.SendTest(r.Context(), input)
	if err != nil {
		if errors.Is(err, postgres.ErrTemplateNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, result)
}

// SendBulkEmail sends a template directly to an ad-hoc recipient list,
// outside any campaign. Per-recipient failures do not fail the request.
func (h *Handlers) SendBulkEmail(w http.ResponseWriter, r *http.Request) {
	var input dispatch.BulkSendInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	if len(input.Recipients) == 0 {
		httputil.FieldError(w, "recipients must not be empty", "recipients")
		return
	}
	if input.ScheduleDate != nil {
		httputil.FieldError(w, "scheduled direct sends are not supported; schedule a campaign instead", "schedule_date")
		return
	}

	result, err := h.sender.SendBulk(r.Context(), input)
	if err != nil {
		if errors.Is(err, postgres.ErrTemplateNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, result)
}

// GetCampaignEmail returns one per-recipient delivery record.
func (h *Handlers) GetCampaignEmail(w http.ResponseWriter, r *http.Request) {
	e, err := h.engagement.GetEmail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, e)
}

// deliveryEvent is one entry in a provider delivery callback batch.
type deliveryEvent struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// DeliveryWebhook ingests provider delivery callbacks (delivered,
// bounced, complained, unsubscribed). Events with unknown message ids
// are counted but not errors: providers retry on non-2xx and a purged
// record is not worth a retry storm.
func (h *Handlers) DeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	var events []deliveryEvent
	if !httputil.Decode(w, r, &events) {
		return
	}

	accepted := 0
	for _, ev := range events {
		if ev.MessageID == "" {
			continue
		}
		err := h.engagement.RecordDeliveryResult(r.Context(), ev.MessageID, domain.EmailStatus(ev.Status), ev.Reason)
		if err != nil {
			continue
		}
		accepted++
	}
	httputil.OK(w, map[string]int{"accepted": accepted})
}
