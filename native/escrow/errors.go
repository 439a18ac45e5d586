package escrow

import "errors"

// Failure kinds surfaced by the escrow engine. Callers match them with
// errors.Is; wrapped variants carry the underlying cause.
var (
	ErrAlreadyInitialized = errors.New("escrow: module already initialized")
	ErrNotInitialized     = errors.New("escrow: module not initialized")
	ErrDuplicateBountyID  = errors.New("escrow: bounty id already exists")
	ErrNotFound           = errors.New("escrow: bounty not found")
	ErrInvalidAmount      = errors.New("escrow: amount must be positive")
	ErrInvalidStatus      = errors.New("escrow: escrow already finalized")
	ErrDeadlineNotPassed  = errors.New("escrow: deadline not passed")
	ErrUnauthorized       = errors.New("escrow: unauthorized caller")
	ErrGatewayFailure     = errors.New("escrow: token transfer failed")
)
