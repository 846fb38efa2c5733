package models

import "time"

type Job struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Salary      int64     `json:"salary" db:"salary"`
	Description string    `json:"description" db:"description"`
	CreatedBy   int64     `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// SalaryDue pairs an account with the salary of the job it holds.
type SalaryDue struct {
	AccountID int64  `db:"account_id"`
	JobID     int64  `db:"job_id"`
	JobName   string `db:"job_name"`
	Salary    int64  `db:"salary"`
}
