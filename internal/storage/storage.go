// Package storage defines the persistence contract of the economy core.
//
// Every balance-affecting operation runs inside Store.WithTx. Implementations
// must give each call to WithTx all-or-nothing semantics and must linearize
// writes to the same account, position or completion row.
package storage

import (
	"context"
	"time"

	"github.com/classbank/economy/internal/models"
	"github.com/shopspring/decimal"
)

// Queries are the reads available both inside and outside a transaction.
// Missing rows are reported as models.ErrNotFound.
type Queries interface {
	GetAccount(ctx context.Context, id int64) (models.Account, error)
	ListRankings(ctx context.Context, limit int) ([]models.Ranking, error)
	ListSalariesDue(ctx context.Context) ([]models.SalaryDue, error)

	GetTransaction(ctx context.Context, id int64) (models.Transaction, error)
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)
	SumLedger(ctx context.Context, accountID int64) (credits, debits int64, err error)

	GetJob(ctx context.Context, id int64) (models.Job, error)
	ListJobs(ctx context.Context) ([]models.Job, error)

	GetQuest(ctx context.Context, id int64) (models.Quest, error)
	ListQuests(ctx context.Context) ([]models.Quest, error)
	GetCompletion(ctx context.Context, id int64) (models.QuestCompletion, error)
	ListPendingCompletions(ctx context.Context) ([]models.PendingCompletion, error)
	// CountCompletions counts the account's completions of a quest submitted
	// at or after since; a zero since counts all of them.
	CountCompletions(ctx context.Context, questID, accountID int64, since time.Time) (int, error)

	GetInstrument(ctx context.Context, id int64) (models.Instrument, error)
	GetInstrumentBySymbol(ctx context.Context, symbol string) (models.Instrument, error)
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	ListHoldings(ctx context.Context, accountID int64) ([]models.HoldingValue, error)
	ListStockTransactions(ctx context.Context, accountID, instrumentID int64) ([]models.StockTransaction, error)
}

// Tx is a unit of work. Lock* methods take a row lock held until the
// transaction ends.
type Tx interface {
	Queries

	InsertAccount(ctx context.Context, acct *models.Account) error
	LockAccount(ctx context.Context, id int64) (models.Account, error)
	// UpdateAccountBalance writes a new balance when the stored version still
	// matches; a mismatch yields models.ErrConcurrentUpdate.
	UpdateAccountBalance(ctx context.Context, id, balance int64, version int) error
	SetAccountJob(ctx context.Context, accountID int64, jobID *int64) error
	SetAccountActive(ctx context.Context, accountID int64, active bool) error

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	FindRefund(ctx context.Context, originalID int64) (models.Transaction, error)

	InsertJob(ctx context.Context, job *models.Job) error

	InsertQuest(ctx context.Context, q *models.Quest) error
	InsertCompletion(ctx context.Context, c *models.QuestCompletion) error
	LockCompletion(ctx context.Context, id int64) (models.QuestCompletion, error)
	MarkCompletionVerified(ctx context.Context, id, verifier int64, at time.Time) error

	InsertInstrument(ctx context.Context, inst *models.Instrument) error
	// ShareLockInstrument reads the instrument and blocks concurrent price
	// updates until the transaction ends.
	ShareLockInstrument(ctx context.Context, id int64) (models.Instrument, error)
	UpdateInstrumentPrice(ctx context.Context, id int64, price decimal.Decimal, at time.Time) error

	LockPosition(ctx context.Context, accountID, instrumentID int64) (models.Position, error)
	SavePosition(ctx context.Context, p *models.Position) error
	DeletePosition(ctx context.Context, id int64) error
	InsertStockTransaction(ctx context.Context, st *models.StockTransaction) error
}

// Store is the shared source of truth.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
