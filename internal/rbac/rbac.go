package rbac

// Role constants, as stored in profiles.role
const (
	RolePyme     = "pyme"
	RoleInvestor = "investor"
	RoleSupplier = "supplier"
	RoleAdmin    = "admin"
)

// Permission constants
const (
	PermCreateDeal       = "create_deal"
	PermFundDeal         = "fund_deal"
	PermSubmitProof      = "submit_proof"
	PermApproveMilestone = "approve_milestone"
	PermReleaseMilestone = "release_milestone"
	PermCancelDeal       = "cancel_deal"
	PermCompleteDeal     = "complete_deal"
	PermReconcile        = "reconcile"
	PermViewBoard        = "view_board"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RolePyme: {
		PermCreateDeal,
	},
	RoleInvestor: {
		PermFundDeal,
	},
	RoleSupplier: {
		// ownership of the specific deal is checked separately
		PermSubmitProof,
	},
	RoleAdmin: {
		PermApproveMilestone, PermReleaseMilestone, PermCancelDeal,
		PermCompleteDeal, PermReconcile, PermViewBoard,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsValidRole reports whether role is one of the known profile roles.
func IsValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

// IsEscrowOperation checks if permission moves funds through the escrow
// contract and therefore needs a connected wallet.
func IsEscrowOperation(permission string) bool {
	switch permission {
	case PermCreateDeal, PermFundDeal, PermSubmitProof, PermApproveMilestone, PermReleaseMilestone:
		return true
	}
	return false
}
