package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lettora/crm-engine/internal/domain"
)

// bulkSendConcurrency bounds the worker pool for bulk sends.
const bulkSendConcurrency = 8

// TestSendInput is the payload for a one-off test send.
type TestSendInput struct {
	TemplateID      string            `json:"template_id"`
	TestEmail       string            `json:"test_email"`
	PersonalizeData map[string]string `json:"personalize_data"`
}

// SendTest delivers a template to a single address with the subject
// prefixed [TEST]. No campaign record is created and no tracking is
// injected.
func (p *Pipeline) SendTest(ctx context.Context, input TestSendInput) (*domain.SendResult, error) {
	if input.TestEmail == "" {
		return nil, fmt.Errorf("test_email is required")
	}
	tmpl, err := p.templates.GetTemplate(ctx, input.TemplateID)
	if err != nil {
		return nil, err
	}

	msg := &domain.EmailMessage{
		To:       input.TestEmail,
		Subject:  "[TEST] " + Personalize(tmpl.Subject, input.PersonalizeData),
		HTMLBody: Personalize(tmpl.HTMLBody, input.PersonalizeData),
		TextBody: Personalize(tmpl.TextBody, input.PersonalizeData),
	}
	return p.mailer.Send(ctx, msg)
}

// BulkRecipient is one entry in a bulk send request.
type BulkRecipient struct {
	Email           string            `json:"email"`
	PersonalizeData map[string]string `json:"personalize_data"`
}

// BulkSendInput is the payload for a direct bulk send. ScheduleDate is
// part of the wire contract but deferred direct sends have no backing
// record to poll; senders get an explicit rejection instead of an
// unexpected immediate send.
type BulkSendInput struct {
	TemplateID   string          `json:"template_id"`
	Recipients   []BulkRecipient `json:"recipients"`
	ScheduleDate *time.Time      `json:"schedule_date,omitempty"`
}

// BulkSendResult reports per-recipient outcomes for a bulk send.
type BulkSendResult struct {
	TotalSent   int               `json:"total_sent"`
	TotalFailed int               `json:"total_failed"`
	Results     []RecipientResult `json:"results"`
}

// RecipientResult is one recipient's outcome within a bulk send.
type RecipientResult struct {
	Email     string `json:"email"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendBulk delivers a template to many addresses through a bounded
// worker pool. One recipient's failure never aborts the rest; results
// preserve the request's recipient order.
func (p *Pipeline) SendBulk(ctx context.Context, input BulkSendInput) (*BulkSendResult, error) {
	if len(input.Recipients) == 0 {
		return nil, fmt.Errorf("recipients are required")
	}
	if input.ScheduleDate != nil {
		return nil, fmt.Errorf("schedule_date is not supported for direct sends; schedule a campaign instead")
	}
	tmpl, err := p.templates.GetTemplate(ctx, input.TemplateID)
	if err != nil {
		return nil, err
	}

	results := make([]RecipientResult, len(input.Recipients))
	var mu sync.Mutex
	sent, failed := 0, 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkSendConcurrency)
	for i, r := range input.Recipients {
		g.Go(func() error {
			msg := &domain.EmailMessage{
				To:       r.Email,
				Subject:  Personalize(tmpl.Subject, r.PersonalizeData),
				HTMLBody: Personalize(tmpl.HTMLBody, r.PersonalizeData),
				TextBody: Personalize(tmpl.TextBody, r.PersonalizeData),
			}
			res, sendErr := p.mailer.Send(gctx, msg)

			out := RecipientResult{Email: r.Email}
			if sendErr != nil || res == nil || !res.Success {
				out.Error = "transport reported failure"
				if sendErr != nil {
					out.Error = sendErr.Error()
				}
			} else {
				out.Success = true
				out.MessageID = res.MessageID
			}

			mu.Lock()
			results[i] = out
			if out.Success {
				sent++
			} else {
				failed++
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; per-recipient failures are in results.
	_ = g.Wait()

	return &BulkSendResult{TotalSent: sent, TotalFailed: failed, Results: results}, nil
}
