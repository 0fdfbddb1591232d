package domain

import "errors"

// Settlement error kinds. Every failure aborts the entire fill with no
// partial effect; sub-component failures surface to the caller verbatim.
var (
	ErrOrderNotStarted       = errors.New("order is yet to start")
	ErrOrderExpired          = errors.New("order is expired")
	ErrOrderCancelled        = errors.New("order has been cancelled")
	ErrInvalidSignature      = errors.New("signature is not valid for order")
	ErrInsufficientPayment   = errors.New("supplied value is below the order price")
	ErrTokenNotApproved      = errors.New("payment token is not approved")
	ErrInsufficientBalance   = errors.New("buyer's balance is insufficient")
	ErrInsufficientAllowance = errors.New("engine allowance is insufficient")
	ErrTransferNotApproved   = errors.New("engine is not approved to transfer the asset")
	ErrUnauthorized          = errors.New("unauthorized")
)

// Infrastructure sentinels.
var (
	ErrNotFound    = errors.New("not found")
	ErrLockHeld    = errors.New("lock already held")
	ErrRateLimited = errors.New("rate limited")
)
