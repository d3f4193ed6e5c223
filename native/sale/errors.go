package sale

import "errors"

var (
	ErrSaleNotActive          = errors.New("sale: sale not active")
	ErrStageNotActive         = errors.New("sale: no active stage")
	ErrInvalidStage           = errors.New("sale: stage id out of range")
	ErrInvalidAmount          = errors.New("sale: amount must be positive")
	ErrInvalidLimits          = errors.New("sale: invalid stage limits")
	ErrStageLimitExceeded     = errors.New("sale: stage cap exceeded")
	ErrBelowMinimumPurchase   = errors.New("sale: below minimum purchase")
	ErrExceedsMaximumPurchase = errors.New("sale: exceeds maximum purchase")
)
