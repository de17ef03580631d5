package model

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(s); v {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return v, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Restriction is the kind of activity a consequence blocks.
type Restriction string

const (
	RestrictRewards    Restriction = "rewards_blocked"
	RestrictExtraTasks Restriction = "extra_tasks_blocked"
)

func ParseRestriction(s string) (Restriction, error) {
	switch v := Restriction(s); v {
	case RestrictRewards, RestrictExtraTasks:
		return v, nil
	}
	return "", fmt.Errorf("unknown restriction %q", s)
}

// Resolution records why a consequence stopped being active.
type Resolution string

const (
	ResolvedManually      Resolution = "manual"
	ResolvedTaskCompleted Resolution = "task_completed"
	ResolvedTaskCancelled Resolution = "task_cancelled"
	ResolvedExpired       Resolution = "expired"
)

type Consequence struct {
	ID          int64       `json:"id"`
	FamilyID    int64       `json:"family_id"`
	UserID      int64       `json:"user_id"`
	Severity    Severity    `json:"severity"`
	Restriction Restriction `json:"restriction"`
	Reason      string      `json:"reason"`
	Active      bool        `json:"active"`
	StartsAt    time.Time   `json:"starts_at"`
	EndsAt      time.Time   `json:"ends_at"`
	TaskID      *int64      `json:"task_id"`
	ResolvedBy  *int64      `json:"resolved_by"`
	ResolvedAt  *time.Time  `json:"resolved_at"`
	Resolution  Resolution  `json:"resolution,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
