package models

import "time"

type Quest struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Reward      int64     `json:"reward" db:"reward"`
	CreatedBy   int64     `json:"createdBy" db:"created_by"`
	IsDaily     bool      `json:"isDaily" db:"is_daily"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// QuestCompletion moves from submitted (no verifier) to verified; the
// verified state is terminal.
type QuestCompletion struct {
	ID          int64      `json:"id" db:"id"`
	QuestID     int64      `json:"questId" db:"quest_id"`
	AccountID   int64      `json:"accountId" db:"account_id"`
	SubmittedAt time.Time  `json:"submittedAt" db:"submitted_at"`
	VerifiedBy  *int64     `json:"verifiedBy,omitempty" db:"verified_by"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty" db:"verified_at"`
}

func (c QuestCompletion) Pending() bool {
	return c.VerifiedBy == nil
}

// PendingCompletion is a submission awaiting a teacher, joined with its quest.
type PendingCompletion struct {
	CompletionID int64     `json:"completionId" db:"completion_id"`
	QuestID      int64     `json:"questId" db:"quest_id"`
	QuestTitle   string    `json:"questTitle" db:"quest_title"`
	Reward       int64     `json:"reward" db:"reward"`
	AccountID    int64     `json:"accountId" db:"account_id"`
	Username     string    `json:"username" db:"username"`
	SubmittedAt  time.Time `json:"submittedAt" db:"submitted_at"`
}
