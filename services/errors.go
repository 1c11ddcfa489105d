package services

import "errors"

// Sentinel errors for the handler layer's conflict/not-found mapping.
// Anything else coming out of a service is a transient/system failure.
var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyGranted       = errors.New("already granted for this period")
	ErrInsufficientCoin     = errors.New("insufficient coin balance")
	ErrOutOfStock           = errors.New("reward out of stock")
	ErrRewardInactive       = errors.New("reward is not available")
	ErrDefinitionInactive   = errors.New("definition is not active")
	ErrConfirmationRequired = errors.New("operation requires explicit confirmation")
	ErrJobAlreadyRunning    = errors.New("job is already running")
	ErrUnknownWindow        = errors.New("unknown leaderboard window")
)
