package model

import "time"

type TxKind string

const (
	TxTaskCompletion   TxKind = "task_completion"
	TxRewardRedemption TxKind = "reward_redemption"
	TxParentAdjustment TxKind = "parent_adjustment"
	TxTransferIn       TxKind = "transfer_in"
	TxTransferOut      TxKind = "transfer_out"
)

// PointTransaction is one immutable ledger row. Corrections are new
// offsetting rows, never edits.
type PointTransaction struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Amount         int       `json:"amount"`
	Kind           TxKind    `json:"kind"`
	TaskID         *int64    `json:"task_id,omitempty"`
	RewardID       *int64    `json:"reward_id,omitempty"`
	CounterpartyID *int64    `json:"counterparty_id,omitempty"`
	TransferID     string    `json:"transfer_id,omitempty"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PointBalance is a leaderboard row.
type PointBalance struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	Balance  int    `json:"balance"`
}
