package postgres

import (
	"context"
	"time"

	"github.com/classbank/economy/internal/models"
	"github.com/jmoiron/sqlx"
)

// queries runs reads against either the pool or an open transaction.
type queries struct {
	ext sqlx.ExtContext
}

const accountColumns = `id, username, display_name, role, balance, initial_balance, job_id, active, version, created_at, updated_at`

const transactionColumns = `id, reference, source_id, destination_id, amount, kind, description, created_by, refund_of, created_at`

// --- accounts ----------------------------------------------------------------

func (q queries) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	var acct models.Account
	err := sqlx.GetContext(ctx, q.ext, &acct, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return models.Account{}, notFound(err, "account", id)
	}
	return acct, nil
}

// ListRankings returns every active account when limit is zero.
func (q queries) ListRankings(ctx context.Context, limit int) ([]models.Ranking, error) {
	var rows []models.Ranking
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT id, username, display_name, role, balance
		FROM accounts WHERE active ORDER BY balance DESC, id LIMIT NULLIF($1, 0)`, limit)
	return rows, err
}

func (q queries) ListSalariesDue(ctx context.Context) ([]models.SalaryDue, error) {
	var rows []models.SalaryDue
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT a.id AS account_id, j.id AS job_id, j.name AS job_name, j.salary
		FROM accounts a JOIN jobs j ON j.id = a.job_id
		WHERE a.active ORDER BY a.id`)
	return rows, err
}

// --- ledger ------------------------------------------------------------------

func (q queries) GetTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	var t models.Transaction
	err := sqlx.GetContext(ctx, q.ext, &t, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		return models.Transaction{}, notFound(err, "transaction", id)
	}
	return t, nil
}

func (q queries) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+transactionColumns+`
		FROM transactions WHERE source_id = $1 OR destination_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, accountID, limit)
	return rows, err
}

func (q queries) SumLedger(ctx context.Context, accountID int64) (int64, int64, error) {
	var sums struct {
		Credits int64 `db:"credits"`
		Debits  int64 `db:"debits"`
	}
	err := sqlx.GetContext(ctx, q.ext, &sums, `
		SELECT COALESCE(SUM(CASE WHEN destination_id = $1 THEN amount ELSE 0 END), 0) AS credits,
		       COALESCE(SUM(CASE WHEN source_id = $1 THEN amount ELSE 0 END), 0) AS debits
		FROM transactions WHERE source_id = $1 OR destination_id = $1`, accountID)
	return sums.Credits, sums.Debits, err
}

// --- jobs --------------------------------------------------------------------

func (q queries) GetJob(ctx context.Context, id int64) (models.Job, error) {
	var job models.Job
	err := sqlx.GetContext(ctx, q.ext, &job, `SELECT id, name, salary, description, created_by, created_at FROM jobs WHERE id = $1`, id)
	if err != nil {
		return models.Job{}, notFound(err, "job", id)
	}
	return job, nil
}

func (q queries) ListJobs(ctx context.Context) ([]models.Job, error) {
	var rows []models.Job
	err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT id, name, salary, description, created_by, created_at FROM jobs ORDER BY name`)
	return rows, err
}

// --- quests ------------------------------------------------------------------

func (q queries) GetQuest(ctx context.Context, id int64) (models.Quest, error) {
	var quest models.Quest
	err := sqlx.GetContext(ctx, q.ext, &quest, `SELECT id, title, description, reward, created_by, is_daily, created_at FROM quests WHERE id = $1`, id)
	if err != nil {
		return models.Quest{}, notFound(err, "quest", id)
	}
	return quest, nil
}

func (q queries) ListQuests(ctx context.Context) ([]models.Quest, error) {
	var rows []models.Quest
	err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT id, title, description, reward, created_by, is_daily, created_at FROM quests ORDER BY created_at DESC, id DESC`)
	return rows, err
}

func (q queries) GetCompletion(ctx context.Context, id int64) (models.QuestCompletion, error) {
	var c models.QuestCompletion
	err := sqlx.GetContext(ctx, q.ext, &c, `SELECT id, quest_id, account_id, submitted_at, verified_by, verified_at FROM quest_completions WHERE id = $1`, id)
	if err != nil {
		return models.QuestCompletion{}, notFound(err, "quest completion", id)
	}
	return c, nil
}

func (q queries) ListPendingCompletions(ctx context.Context) ([]models.PendingCompletion, error) {
	var rows []models.PendingCompletion
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT qc.id AS completion_id, q.id AS quest_id, q.title AS quest_title, q.reward,
		       a.id AS account_id, a.username, qc.submitted_at
		FROM quest_completions qc
		JOIN quests q ON q.id = qc.quest_id
		JOIN accounts a ON a.id = qc.account_id
		WHERE qc.verified_by IS NULL
		ORDER BY qc.submitted_at, qc.id`)
	return rows, err
}

func (q queries) CountCompletions(ctx context.Context, questID, accountID int64, since time.Time) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.ext, &n, `SELECT COUNT(*) FROM quest_completions WHERE quest_id = $1 AND account_id = $2 AND submitted_at >= $3`, questID, accountID, since)
	return n, err
}

// --- instruments & positions -------------------------------------------------

func (q queries) GetInstrument(ctx context.Context, id int64) (models.Instrument, error) {
	var inst models.Instrument
	err := sqlx.GetContext(ctx, q.ext, &inst, `SELECT id, symbol, name, current_price, last_refreshed FROM instruments WHERE id = $1`, id)
	if err != nil {
		return models.Instrument{}, notFound(err, "instrument", id)
	}
	return inst, nil
}

func (q queries) GetInstrumentBySymbol(ctx context.Context, symbol string) (models.Instrument, error) {
	var inst models.Instrument
	err := sqlx.GetContext(ctx, q.ext, &inst, `SELECT id, symbol, name, current_price, last_refreshed FROM instruments WHERE symbol = $1`, symbol)
	if err != nil {
		return models.Instrument{}, notFound(err, "instrument", symbol)
	}
	return inst, nil
}

func (q queries) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	var rows []models.Instrument
	err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT id, symbol, name, current_price, last_refreshed FROM instruments ORDER BY symbol`)
	return rows, err
}

func (q queries) ListHoldings(ctx context.Context, accountID int64) ([]models.HoldingValue, error) {
	var rows []models.HoldingValue
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT p.instrument_id, i.symbol, i.name, i.current_price, p.quantity, p.average_cost
		FROM positions p JOIN instruments i ON i.id = p.instrument_id
		WHERE p.account_id = $1 ORDER BY i.symbol`, accountID)
	return rows, err
}

func (q queries) ListStockTransactions(ctx context.Context, accountID, instrumentID int64) ([]models.StockTransaction, error) {
	var rows []models.StockTransaction
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT id, account_id, instrument_id, direction, quantity, price, total, created_at
		FROM stock_transactions WHERE account_id = $1 AND instrument_id = $2
		ORDER BY created_at, id`, accountID, instrumentID)
	return rows, err
}
