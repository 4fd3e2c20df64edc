package state

import "errors"

// Sentinel errors for every rejection the engine can produce. Handlers wrap
// these with context; callers test with errors.Is. A typed error always means
// the whole event was rejected with state untouched.
var (
	// Validation
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrLeverageTooHigh     = errors.New("leverage out of range")
	ErrTooManyPositions    = errors.New("position count cap reached")
	ErrBatchLengthMismatch = errors.New("batch array length mismatch")
	ErrCollateralCeiling   = errors.New("collateral ceiling exceeded")

	// Authorization
	ErrNotAuthorized = errors.New("not authorized")

	// State
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionNotActive     = errors.New("position not active")
	ErrInsufficientMargin    = errors.New("insufficient margin")
	ErrInsufficientPrincipal = errors.New("insufficient principal")
	ErrNotLiquidatable       = errors.New("position not liquidatable")
	ErrHoldingPeriodNotMet   = errors.New("holding period not met")
	ErrInsufficientYield     = errors.New("insufficient yield")
	ErrPaused                = errors.New("engine paused")
	ErrPositionBacking       = errors.New("position still backs synthetic supply")

	// Oracle — always fail closed
	ErrPriceInvalid = errors.New("price invalid or stale")
)
