// Package campaign implements the campaign lifecycle state machine.
//
// The service layer contains all business logic for creating, launching,
// pausing, completing and cancelling campaigns, plus A/B test
// configuration and evaluation. It depends on the Repository interface
// defined in this package and should never import from api/.
//
// Repository implementations live in repository/postgres/.
package campaign
