package core

import "errors"

var (
	// ErrOperationInProgress rejects a purchase or claim while another
	// operation for the same actor is still running.
	ErrOperationInProgress = errors.New("core: operation already in progress for actor")
	// ErrInvalidAddress indicates a zero or malformed participant address.
	ErrInvalidAddress = errors.New("core: invalid address")
	// ErrInvalidPaymentToken indicates the payment asset cannot be accepted.
	// Native-coin payments fall under this error.
	ErrInvalidPaymentToken = errors.New("core: payment token not accepted")
	// ErrUnauthorized indicates the caller lacks the role required for an
	// administrative operation.
	ErrUnauthorized = errors.New("core: caller lacks required role")
	// ErrNodeNotReady indicates a dependency the operation needs has not
	// been wired into the controller.
	ErrNodeNotReady = errors.New("core: controller dependency not configured")
)
