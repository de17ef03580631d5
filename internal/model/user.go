package model

import (
	"fmt"
	"time"
)

// Role is the closed set of family roles.
type Role string

const (
	RoleParent Role = "parent"
	RoleTeen   Role = "teen"
	RoleChild  Role = "child"
)

// ParseRole converts a stored or submitted role string into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleParent, RoleTeen, RoleChild:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

type User struct {
	ID            int64     `json:"id"`
	FamilyID      int64     `json:"family_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	Role          Role      `json:"role"`
	PointsBalance int       `json:"points_balance"`
	HasPIN        bool      `json:"has_pin"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
