package models

import "errors"

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyVerified    = errors.New("quest completion already verified")
	ErrPriceUnavailable   = errors.New("price unavailable")

	ErrInvalidArgument  = errors.New("invalid argument")
	ErrAlreadySubmitted = errors.New("quest completion already submitted")
	ErrAlreadyExists    = errors.New("already exists")
	ErrAlreadyRefunded  = errors.New("transaction already refunded")
	ErrNotRefundable    = errors.New("transaction is not refundable")

	// ErrConcurrentUpdate reports a lost optimistic-lock race; the store
	// retries the enclosing transaction when it sees it.
	ErrConcurrentUpdate = errors.New("concurrent update")
)
