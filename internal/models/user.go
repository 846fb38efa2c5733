package models

import (
	"fmt"
	"time"
)

// Role is the closed set of roles an account can hold.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole converts a stored or submitted role string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// CanManageEconomy reports whether the role may move currency between
// accounts, run salary batches, verify quests and curate jobs, quests and
// instruments.
func (r Role) CanManageEconomy() bool {
	switch r {
	case RoleTeacher:
		return true
	case RoleStudent:
		return false
	default:
		return false
	}
}

// Actor identifies the caller of a core operation.
type Actor struct {
	AccountID int64 `json:"accountId"`
	Role      Role  `json:"role"`
}

// System acts for the server itself: scheduled jobs and enrolment of the
// first accounts. It holds no account of its own.
var System = Actor{Role: RoleTeacher}

// Acts reports whether the actor may operate on the given account: its own,
// or any account when the actor manages the economy.
func (a Actor) Acts(accountID int64) bool {
	return a.AccountID == accountID || a.Role.CanManageEconomy()
}

// Account is a user's economic identity.
type Account struct {
	ID             int64     `json:"id" db:"id"`
	Username       string    `json:"username" db:"username"`
	DisplayName    string    `json:"displayName" db:"display_name"`
	Role           Role      `json:"role" db:"role"`
	Balance        int64     `json:"balance" db:"balance"`
	InitialBalance int64     `json:"initialBalance" db:"initial_balance"`
	JobID          *int64    `json:"jobId,omitempty" db:"job_id"`
	Active         bool      `json:"active" db:"active"`
	Version        int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// Ranking is one row of the balance leaderboard.
type Ranking struct {
	Rank        int    `json:"rank" db:"-"`
	AccountID   int64  `json:"accountId" db:"id"`
	Username    string `json:"username" db:"username"`
	DisplayName string `json:"displayName" db:"display_name"`
	Role        Role   `json:"role" db:"role"`
	Balance     int64  `json:"balance" db:"balance"`
}
