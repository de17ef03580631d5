package model

import "time"

type Reward struct {
	ID               int64     `json:"id"`
	FamilyID         int64     `json:"family_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	PointCost        int       `json:"point_cost"`
	Active           bool      `json:"active"`
	RequiresApproval bool      `json:"requires_approval"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type RedemptionStatus string

const (
	RedemptionPending  RedemptionStatus = "pending_approval"
	RedemptionApproved RedemptionStatus = "approved"
	RedemptionDeclined RedemptionStatus = "declined"
)

// Redemption records a request to spend points on a reward. PointsSpent is
// the cost at request time, so later reward edits leave history untouched.
type Redemption struct {
	ID          int64            `json:"id"`
	FamilyID    int64            `json:"family_id"`
	RequestID   string           `json:"request_id"`
	RewardID    int64            `json:"reward_id"`
	UserID      int64            `json:"user_id"`
	PointsSpent int              `json:"points_spent"`
	Status      RedemptionStatus `json:"status"`
	ApprovedBy  *int64           `json:"approved_by"`
	DecidedAt   *time.Time       `json:"decided_at"`
	CreatedAt   time.Time        `json:"created_at"`
}
