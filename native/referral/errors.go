package referral

import "errors"

var (
	ErrClaimsDisabled = errors.New("referral: claims disabled")
	ErrNothingToClaim = errors.New("referral: nothing to claim")
	ErrInvalidRate    = errors.New("referral: rate exceeds maximum")
)
