package campaign

import (
	"errors"
	"fmt"

	"github.com/lettora/crm-engine/internal/domain"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound = errors.New("campaign not found")
)

// ValidationError reports a rejected configuration or launch precondition.
// The field name is always populated so API responses can point at the
// offending input. No state change occurs before a ValidationError.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// TransitionError reports a rejected lifecycle transition. No mutation
// occurs: the campaign keeps its current status.
type TransitionError struct {
	Current domain.CampaignStatus
	Action  string
	Rule    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s campaign in status %s: %s", e.Action, e.Current, e.Rule)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransition reports whether err is a TransitionError.
func IsTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
