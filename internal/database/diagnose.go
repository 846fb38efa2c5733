package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// CoreTables are the tables the economy cannot run without.
var CoreTables = []string{
	"accounts",
	"jobs",
	"transactions",
	"quests",
	"quest_completions",
	"instruments",
	"positions",
	"stock_transactions",
}

type TableStatus struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
	Rows   int64  `json:"rows"`
}

// Diagnosis is a point-in-time health report of the database.
type Diagnosis struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency"`
	Tables    []TableStatus `json:"tables"`
	Error     string        `json:"error,omitempty"`
}

// Healthy reports whether the database answered and every core table exists.
func (d Diagnosis) Healthy() bool {
	if !d.Connected {
		return false
	}
	for _, t := range d.Tables {
		if !t.Exists {
			return false
		}
	}
	return true
}

// Diagnose checks connectivity, the presence of each core table and its
// row count. Failures are reported in the result rather than returned.
func Diagnose(ctx context.Context, db *sqlx.DB) Diagnosis {
	var d Diagnosis
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		d.Error = err.Error()
		return d
	}
	d.Connected = true
	d.Latency = time.Since(start)

	for _, table := range CoreTables {
		status := TableStatus{Name: table}
		err := db.GetContext(ctx, &status.Exists,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`, table)
		if err != nil {
			d.Error = fmt.Sprintf("check table %s: %v", table, err)
			d.Tables = append(d.Tables, status)
			continue
		}
		if status.Exists {
			// Table names come from CoreTables, never from input.
			if err := db.GetContext(ctx, &status.Rows, `SELECT COUNT(*) FROM `+table); err != nil {
				d.Error = fmt.Sprintf("count table %s: %v", table, err)
			}
		}
		d.Tables = append(d.Tables, status)
	}
	return d
}
