// Package tenant carries the authenticated caller through the economy engines
// and decides what each role may do.
package tenant

import (
	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
)

// Actor is the already-authenticated (family, user, role) triple supplied by
// the boundary layer. FamilyID scopes every read and write the actor makes.
type Actor struct {
	FamilyID int64
	UserID   int64
	Role     model.Role
}

type Capability string

const (
	CapCreateTask         Capability = "create-task"
	CapEditTask           Capability = "edit-task"
	CapCancelTask         Capability = "cancel-task"
	CapCompleteTask       Capability = "complete-task"
	CapResolveConsequence Capability = "resolve-consequence"
	CapImposeConsequence  Capability = "impose-consequence"
	CapApproveRedemption  Capability = "approve-redemption"
	CapRedeemReward       Capability = "redeem-reward"
	CapManageRewards      Capability = "manage-rewards"
	CapAdjustPoints       Capability = "adjust-points"
	CapTransferPoints     Capability = "transfer-points"
	CapViewFamilyLedger   Capability = "view-family-ledger"
	CapManageMembers      Capability = "manage-members"
)

var capabilities = map[model.Role]map[Capability]bool{
	model.RoleParent: {
		CapCreateTask:         true,
		CapEditTask:           true,
		CapCancelTask:         true,
		CapCompleteTask:       true,
		CapResolveConsequence: true,
		CapImposeConsequence:  true,
		CapApproveRedemption:  true,
		CapRedeemReward:       true,
		CapManageRewards:      true,
		CapAdjustPoints:       true,
		CapTransferPoints:     true,
		CapViewFamilyLedger:   true,
		CapManageMembers:      true,
	},
	model.RoleTeen: {
		CapCompleteTask:   true,
		CapRedeemReward:   true,
		CapTransferPoints: true,
	},
	model.RoleChild: {
		CapCompleteTask: true,
		CapRedeemReward: true,
	},
}

// Can reports whether role holds capability c.
func Can(role model.Role, c Capability) bool {
	return capabilities[role][c]
}

// Require returns a Forbidden error unless the actor's role holds c.
func Require(a Actor, c Capability) error {
	if !Can(a.Role, c) {
		return apperr.Forbidden(string(c), "role %q may not %s", a.Role, c)
	}
	return nil
}

// RequireSelfOr allows the actor to act on their own user, or on any user in
// the family when their role holds c.
func RequireSelfOr(a Actor, userID int64, c Capability) error {
	if a.UserID == userID {
		return nil
	}
	return Require(a, c)
}
