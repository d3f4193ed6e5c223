package common

// Role names recognised by the role registry. Administrative operations
// resolve their capability checks against these identifiers.
const (
	// RoleSaleAdmin manages the stage schedule, the sale gate and role
	// membership.
	RoleSaleAdmin = "ROLE_SALE_ADMIN"
	// RoleReferralAdmin manages reward rates and the claim gate.
	RoleReferralAdmin = "ROLE_REFERRAL_ADMIN"
	// RolePauser toggles the per-module pause flags.
	RolePauser = "ROLE_PAUSER"
)
