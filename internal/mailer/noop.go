package mailer

import (
	"context"

	"github.com/google/uuid"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// Noop accepts every message without delivering anything. It is the
// default provider for local development and staging environments
// without ESP credentials.
type Noop struct{}

// NewNoop creates a no-delivery mailer.
func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	id := "noop-" + uuid.New().String()
	logger.Debug("noop send", "to", msg.To, "subject", msg.Subject, "message_id", id)
	return &domain.SendResult{Success: true, MessageID: id}, nil
}
