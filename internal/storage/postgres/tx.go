package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/classbank/economy/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type tx struct {
	queries
}

func (t *tx) InsertAccount(ctx context.Context, acct *models.Account) error {
	now := time.Now().UTC()
	acct.CreatedAt, acct.UpdatedAt = now, now
	acct.Version = 1
	err := sqlx.GetContext(ctx, t.ext, &acct.ID, `
		INSERT INTO accounts (username, display_name, role, balance, initial_balance, job_id, active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		acct.Username, acct.DisplayName, string(acct.Role), acct.Balance, acct.InitialBalance,
		acct.JobID, acct.Active, acct.Version, acct.CreatedAt, acct.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username %q", models.ErrAlreadyExists, acct.Username)
	}
	return err
}

func (t *tx) LockAccount(ctx context.Context, id int64) (models.Account, error) {
	var acct models.Account
	err := sqlx.GetContext(ctx, t.ext, &acct, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return models.Account{}, notFound(err, "account", id)
	}
	return acct, nil
}

func (t *tx) UpdateAccountBalance(ctx context.Context, id, balance int64, version int) error {
	result, err := t.ext.ExecContext(ctx, `UPDATE accounts SET balance = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		balance, time.Now().UTC(), id, version)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: account %d", models.ErrConcurrentUpdate, id)
	}
	return nil
}

func (t *tx) SetAccountJob(ctx context.Context, accountID int64, jobID *int64) error {
	return t.execOne(ctx, "account", accountID,
		`UPDATE accounts SET job_id = $1, updated_at = $2 WHERE id = $3`, jobID, time.Now().UTC(), accountID)
}

func (t *tx) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	return t.execOne(ctx, "account", accountID,
		`UPDATE accounts SET active = $1, updated_at = $2 WHERE id = $3`, active, time.Now().UTC(), accountID)
}

func (t *tx) InsertTransaction(ctx context.Context, entry *models.Transaction) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := sqlx.GetContext(ctx, t.ext, &entry.ID, `
		INSERT INTO transactions (reference, source_id, destination_id, amount, kind, description, created_by, refund_of, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		entry.Reference, entry.SourceID, entry.DestinationID, entry.Amount, string(entry.Kind),
		entry.Description, entry.CreatedBy, entry.RefundOf, entry.CreatedAt)
	if isUniqueViolation(err) && entry.RefundOf != nil {
		return fmt.Errorf("%w: transaction %d", models.ErrAlreadyRefunded, *entry.RefundOf)
	}
	return err
}

func (t *tx) FindRefund(ctx context.Context, originalID int64) (models.Transaction, error) {
	var entry models.Transaction
	err := sqlx.GetContext(ctx, t.ext, &entry, `SELECT `+transactionColumns+` FROM transactions WHERE refund_of = $1`, originalID)
	if err != nil {
		return models.Transaction{}, notFound(err, "refund of transaction", originalID)
	}
	return entry, nil
}

func (t *tx) InsertJob(ctx context.Context, job *models.Job) error {
	job.CreatedAt = time.Now().UTC()
	return sqlx.GetContext(ctx, t.ext, &job.ID, `
		INSERT INTO jobs (name, salary, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		job.Name, job.Salary, job.Description, job.CreatedBy, job.CreatedAt)
}

func (t *tx) InsertQuest(ctx context.Context, q *models.Quest) error {
	q.CreatedAt = time.Now().UTC()
	return sqlx.GetContext(ctx, t.ext, &q.ID, `
		INSERT INTO quests (title, description, reward, created_by, is_daily, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		q.Title, q.Description, q.Reward, q.CreatedBy, q.IsDaily, q.CreatedAt)
}

func (t *tx) InsertCompletion(ctx context.Context, c *models.QuestCompletion) error {
	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = time.Now().UTC()
	}
	return sqlx.GetContext(ctx, t.ext, &c.ID, `
		INSERT INTO quest_completions (quest_id, account_id, submitted_at)
		VALUES ($1, $2, $3) RETURNING id`,
		c.QuestID, c.AccountID, c.SubmittedAt)
}

func (t *tx) LockCompletion(ctx context.Context, id int64) (models.QuestCompletion, error) {
	var c models.QuestCompletion
	err := sqlx.GetContext(ctx, t.ext, &c, `SELECT id, quest_id, account_id, submitted_at, verified_by, verified_at FROM quest_completions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return models.QuestCompletion{}, notFound(err, "quest completion", id)
	}
	return c, nil
}

func (t *tx) MarkCompletionVerified(ctx context.Context, id, verifier int64, at time.Time) error {
	result, err := t.ext.ExecContext(ctx, `UPDATE quest_completions SET verified_by = $1, verified_at = $2 WHERE id = $3 AND verified_by IS NULL`,
		verifier, at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: completion %d", models.ErrAlreadyVerified, id)
	}
	return nil
}

func (t *tx) InsertInstrument(ctx context.Context, inst *models.Instrument) error {
	if inst.LastRefreshed.IsZero() {
		inst.LastRefreshed = time.Now().UTC()
	}
	err := sqlx.GetContext(ctx, t.ext, &inst.ID, `
		INSERT INTO instruments (symbol, name, current_price, last_refreshed)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		inst.Symbol, inst.Name, inst.CurrentPrice, inst.LastRefreshed)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: instrument %s", models.ErrAlreadyExists, inst.Symbol)
	}
	return err
}

func (t *tx) ShareLockInstrument(ctx context.Context, id int64) (models.Instrument, error) {
	var inst models.Instrument
	err := sqlx.GetContext(ctx, t.ext, &inst, `SELECT id, symbol, name, current_price, last_refreshed FROM instruments WHERE id = $1 FOR SHARE`, id)
	if err != nil {
		return models.Instrument{}, notFound(err, "instrument", id)
	}
	return inst, nil
}

func (t *tx) UpdateInstrumentPrice(ctx context.Context, id int64, price decimal.Decimal, at time.Time) error {
	return t.execOne(ctx, "instrument", id,
		`UPDATE instruments SET current_price = $1, last_refreshed = $2 WHERE id = $3`, price, at, id)
}

func (t *tx) LockPosition(ctx context.Context, accountID, instrumentID int64) (models.Position, error) {
	var p models.Position
	err := sqlx.GetContext(ctx, t.ext, &p, `SELECT id, account_id, instrument_id, quantity, average_cost, updated_at FROM positions WHERE account_id = $1 AND instrument_id = $2 FOR UPDATE`,
		accountID, instrumentID)
	if err != nil {
		return models.Position{}, notFound(err, "position", fmt.Sprintf("%d/%d", accountID, instrumentID))
	}
	return p, nil
}

func (t *tx) SavePosition(ctx context.Context, p *models.Position) error {
	p.UpdatedAt = time.Now().UTC()
	if p.ID == 0 {
		return sqlx.GetContext(ctx, t.ext, &p.ID, `
			INSERT INTO positions (account_id, instrument_id, quantity, average_cost, updated_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			p.AccountID, p.InstrumentID, p.Quantity, p.AverageCost, p.UpdatedAt)
	}
	return t.execOne(ctx, "position", p.ID,
		`UPDATE positions SET quantity = $1, average_cost = $2, updated_at = $3 WHERE id = $4`,
		p.Quantity, p.AverageCost, p.UpdatedAt, p.ID)
}

func (t *tx) DeletePosition(ctx context.Context, id int64) error {
	return t.execOne(ctx, "position", id, `DELETE FROM positions WHERE id = $1`, id)
}

func (t *tx) InsertStockTransaction(ctx context.Context, st *models.StockTransaction) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	return sqlx.GetContext(ctx, t.ext, &st.ID, `
		INSERT INTO stock_transactions (account_id, instrument_id, direction, quantity, price, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		st.AccountID, st.InstrumentID, string(st.Direction), st.Quantity, st.Price, st.Total, st.CreatedAt)
}

func (t *tx) execOne(ctx context.Context, what string, id int64, query string, args ...any) error {
	result, err := t.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %d", models.ErrNotFound, what, id)
	}
	return nil
}
