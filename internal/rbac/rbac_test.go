package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role     string
		perm     string
		expected bool
	}{
		{RoleInvestor, PermFundDeal, true},
		{RolePyme, PermFundDeal, false},
		{RoleSupplier, PermFundDeal, false},
		{RoleAdmin, PermFundDeal, false},

		{RoleSupplier, PermSubmitProof, true},
		{RoleInvestor, PermSubmitProof, false},

		{RoleAdmin, PermApproveMilestone, true},
		{RoleAdmin, PermReleaseMilestone, true},
		{RoleSupplier, PermReleaseMilestone, false},
		{RoleInvestor, PermApproveMilestone, false},

		{RolePyme, PermCreateDeal, true},
		{"", PermCreateDeal, false},
		{"unknown", PermViewBoard, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.perm, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.expected {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.expected)
			}
		})
	}
}

func TestIsEscrowOperation(t *testing.T) {
	if !IsEscrowOperation(PermReleaseMilestone) {
		t.Error("release must require a wallet")
	}
	if IsEscrowOperation(PermCancelDeal) {
		t.Error("cancel is off-chain only")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{RolePyme, RoleInvestor, RoleSupplier, RoleAdmin} {
		if !IsValidRole(r) {
			t.Errorf("%q should be valid", r)
		}
	}
	if IsValidRole("owner") {
		t.Error("owner is not a marketplace role")
	}
}
