// Package mailer provides the email transport implementations behind the
// dispatch pipeline's Mailer interface.
package mailer

import (
	"fmt"

	"github.com/lettora/crm-engine/internal/config"
	"github.com/lettora/crm-engine/internal/service/dispatch"
)

// New returns the Mailer selected by cfg.Mailer.Provider.
func New(cfg *config.Config) (dispatch.Mailer, error) {
	from := cfg.Mailer.From
	fromName := cfg.Mailer.FromName

	switch cfg.Mailer.Provider {
	case "sparkpost":
		if cfg.SparkPost.APIKey == "" {
			return nil, fmt.Errorf("sparkpost provider selected but no api key configured")
		}
		return NewSparkPost(cfg.SparkPost, from, fromName), nil
	case "ses":
		return NewSES(cfg.SES, from, fromName)
	case "sendgrid":
		if cfg.SendGrid.APIKey == "" {
			return nil, fmt.Errorf("sendgrid provider selected but no api key configured")
		}
		return NewSendGrid(cfg.SendGrid, from, fromName), nil
	case "noop", "":
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown mailer provider %q", cfg.Mailer.Provider)
	}
}
