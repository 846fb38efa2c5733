package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/classbank/economy/internal/models"
	"github.com/shopspring/decimal"
)

// view implements storage.Tx over one state. Outside WithTx it is only used
// for reads.
type view struct {
	st *state
}

func (v *view) GetAccount(_ context.Context, id int64) (models.Account, error) {
	acct, ok := v.st.accounts[id]
	if !ok {
		return models.Account{}, notFound("account", id)
	}
	return acct, nil
}

func (v *view) ListRankings(_ context.Context, limit int) ([]models.Ranking, error) {
	accts := sortedValues(v.st.accounts, func(a, b models.Account) bool {
		if a.Balance != b.Balance {
			return a.Balance > b.Balance
		}
		return a.ID < b.ID
	})
	var out []models.Ranking
	for _, a := range accts {
		if !a.Active {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, models.Ranking{
			AccountID: a.ID, Username: a.Username, DisplayName: a.DisplayName, Role: a.Role, Balance: a.Balance,
		})
	}
	return out, nil
}

func (v *view) ListSalariesDue(_ context.Context) ([]models.SalaryDue, error) {
	accts := sortedValues(v.st.accounts, func(a, b models.Account) bool { return a.ID < b.ID })
	var out []models.SalaryDue
	for _, a := range accts {
		if !a.Active || a.JobID == nil {
			continue
		}
		job, ok := v.st.jobs[*a.JobID]
		if !ok {
			continue
		}
		out = append(out, models.SalaryDue{AccountID: a.ID, JobID: job.ID, JobName: job.Name, Salary: job.Salary})
	}
	return out, nil
}

func (v *view) GetTransaction(_ context.Context, id int64) (models.Transaction, error) {
	for _, t := range v.st.transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Transaction{}, notFound("transaction", id)
}

func (v *view) ListTransactions(_ context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for i := len(v.st.transactions) - 1; i >= 0; i-- {
		t := v.st.transactions[i]
		if !touches(t, accountID) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (v *view) SumLedger(_ context.Context, accountID int64) (int64, int64, error) {
	var credits, debits int64
	for _, t := range v.st.transactions {
		if t.DestinationID != nil && *t.DestinationID == accountID {
			credits += t.Amount
		}
		if t.SourceID != nil && *t.SourceID == accountID {
			debits += t.Amount
		}
	}
	return credits, debits, nil
}

func touches(t models.Transaction, accountID int64) bool {
	return (t.SourceID != nil && *t.SourceID == accountID) ||
		(t.DestinationID != nil && *t.DestinationID == accountID)
}

func (v *view) GetJob(_ context.Context, id int64) (models.Job, error) {
	job, ok := v.st.jobs[id]
	if !ok {
		return models.Job{}, notFound("job", id)
	}
	return job, nil
}

func (v *view) ListJobs(_ context.Context) ([]models.Job, error) {
	return sortedValues(v.st.jobs, func(a, b models.Job) bool { return a.Name < b.Name }), nil
}

func (v *view) GetQuest(_ context.Context, id int64) (models.Quest, error) {
	q, ok := v.st.quests[id]
	if !ok {
		return models.Quest{}, notFound("quest", id)
	}
	return q, nil
}

func (v *view) ListQuests(_ context.Context) ([]models.Quest, error) {
	return sortedValues(v.st.quests, func(a, b models.Quest) bool { return a.ID > b.ID }), nil
}

func (v *view) GetCompletion(_ context.Context, id int64) (models.QuestCompletion, error) {
	c, ok := v.st.completions[id]
	if !ok {
		return models.QuestCompletion{}, notFound("quest completion", id)
	}
	return c, nil
}

func (v *view) ListPendingCompletions(_ context.Context) ([]models.PendingCompletion, error) {
	cs := sortedValues(v.st.completions, func(a, b models.QuestCompletion) bool { return a.ID < b.ID })
	var out []models.PendingCompletion
	for _, c := range cs {
		if !c.Pending() {
			continue
		}
		q := v.st.quests[c.QuestID]
		a := v.st.accounts[c.AccountID]
		out = append(out, models.PendingCompletion{
			CompletionID: c.ID, QuestID: q.ID, QuestTitle: q.Title, Reward: q.Reward,
			AccountID: a.ID, Username: a.Username, SubmittedAt: c.SubmittedAt,
		})
	}
	return out, nil
}

func (v *view) CountCompletions(_ context.Context, questID, accountID int64, since time.Time) (int, error) {
	n := 0
	for _, c := range v.st.completions {
		if c.QuestID == questID && c.AccountID == accountID && !c.SubmittedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (v *view) GetInstrument(_ context.Context, id int64) (models.Instrument, error) {
	inst, ok := v.st.instruments[id]
	if !ok {
		return models.Instrument{}, notFound("instrument", id)
	}
	return inst, nil
}

func (v *view) GetInstrumentBySymbol(_ context.Context, symbol string) (models.Instrument, error) {
	for _, inst := range v.st.instruments {
		if inst.Symbol == symbol {
			return inst, nil
		}
	}
	return models.Instrument{}, notFound("instrument", symbol)
}

func (v *view) ListInstruments(_ context.Context) ([]models.Instrument, error) {
	return sortedValues(v.st.instruments, func(a, b models.Instrument) bool { return a.Symbol < b.Symbol }), nil
}

func (v *view) ListHoldings(_ context.Context, accountID int64) ([]models.HoldingValue, error) {
	var out []models.HoldingValue
	for _, p := range v.st.positions {
		if p.AccountID != accountID {
			continue
		}
		inst := v.st.instruments[p.InstrumentID]
		out = append(out, models.HoldingValue{
			InstrumentID: inst.ID, Symbol: inst.Symbol, Name: inst.Name, CurrentPrice: inst.CurrentPrice,
			Quantity: p.Quantity, AverageCost: p.AverageCost,
		})
	}
	sortHoldings(out)
	return out, nil
}

func (v *view) ListStockTransactions(_ context.Context, accountID, instrumentID int64) ([]models.StockTransaction, error) {
	var out []models.StockTransaction
	for _, st := range v.st.stockTxs {
		if st.AccountID == accountID && st.InstrumentID == instrumentID {
			out = append(out, st)
		}
	}
	return out, nil
}

// --- writes ------------------------------------------------------------------

func (v *view) InsertAccount(_ context.Context, acct *models.Account) error {
	for _, a := range v.st.accounts {
		if a.Username == acct.Username {
			return fmt.Errorf("%w: username %q", models.ErrAlreadyExists, acct.Username)
		}
	}
	now := time.Now().UTC()
	acct.ID = v.st.id()
	acct.CreatedAt, acct.UpdatedAt = now, now
	acct.Version = 1
	v.st.accounts[acct.ID] = *acct
	return nil
}

func (v *view) LockAccount(ctx context.Context, id int64) (models.Account, error) {
	return v.GetAccount(ctx, id)
}

func (v *view) UpdateAccountBalance(_ context.Context, id, balance int64, version int) error {
	acct, ok := v.st.accounts[id]
	if !ok || acct.Version != version {
		return fmt.Errorf("%w: account %d", models.ErrConcurrentUpdate, id)
	}
	if balance < 0 {
		return fmt.Errorf("%w: account %d", models.ErrInsufficientFunds, id)
	}
	acct.Balance = balance
	acct.Version++
	acct.UpdatedAt = time.Now().UTC()
	v.st.accounts[id] = acct
	return nil
}

func (v *view) SetAccountJob(_ context.Context, accountID int64, jobID *int64) error {
	acct, ok := v.st.accounts[accountID]
	if !ok {
		return notFound("account", accountID)
	}
	acct.JobID = jobID
	acct.UpdatedAt = time.Now().UTC()
	v.st.accounts[accountID] = acct
	return nil
}

func (v *view) SetAccountActive(_ context.Context, accountID int64, active bool) error {
	acct, ok := v.st.accounts[accountID]
	if !ok {
		return notFound("account", accountID)
	}
	acct.Active = active
	acct.UpdatedAt = time.Now().UTC()
	v.st.accounts[accountID] = acct
	return nil
}

func (v *view) InsertTransaction(_ context.Context, t *models.Transaction) error {
	if t.RefundOf != nil {
		for _, existing := range v.st.transactions {
			if existing.RefundOf != nil && *existing.RefundOf == *t.RefundOf {
				return fmt.Errorf("%w: transaction %d", models.ErrAlreadyRefunded, *t.RefundOf)
			}
		}
	}
	t.ID = v.st.id()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	v.st.transactions = append(v.st.transactions, *t)
	return nil
}

func (v *view) FindRefund(_ context.Context, originalID int64) (models.Transaction, error) {
	for _, t := range v.st.transactions {
		if t.RefundOf != nil && *t.RefundOf == originalID {
			return t, nil
		}
	}
	return models.Transaction{}, notFound("refund of transaction", originalID)
}

func (v *view) InsertJob(_ context.Context, job *models.Job) error {
	job.ID = v.st.id()
	job.CreatedAt = time.Now().UTC()
	v.st.jobs[job.ID] = *job
	return nil
}

func (v *view) InsertQuest(_ context.Context, q *models.Quest) error {
	q.ID = v.st.id()
	q.CreatedAt = time.Now().UTC()
	v.st.quests[q.ID] = *q
	return nil
}

func (v *view) InsertCompletion(_ context.Context, c *models.QuestCompletion) error {
	c.ID = v.st.id()
	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = time.Now().UTC()
	}
	v.st.completions[c.ID] = *c
	return nil
}

func (v *view) LockCompletion(ctx context.Context, id int64) (models.QuestCompletion, error) {
	return v.GetCompletion(ctx, id)
}

func (v *view) MarkCompletionVerified(_ context.Context, id, verifier int64, at time.Time) error {
	c, ok := v.st.completions[id]
	if !ok {
		return notFound("quest completion", id)
	}
	if !c.Pending() {
		return fmt.Errorf("%w: completion %d", models.ErrAlreadyVerified, id)
	}
	c.VerifiedBy = models.Int64Ptr(verifier)
	c.VerifiedAt = &at
	v.st.completions[id] = c
	return nil
}

func (v *view) InsertInstrument(_ context.Context, inst *models.Instrument) error {
	for _, existing := range v.st.instruments {
		if existing.Symbol == inst.Symbol {
			return fmt.Errorf("%w: instrument %s", models.ErrAlreadyExists, inst.Symbol)
		}
	}
	inst.ID = v.st.id()
	if inst.LastRefreshed.IsZero() {
		inst.LastRefreshed = time.Now().UTC()
	}
	v.st.instruments[inst.ID] = *inst
	return nil
}

func (v *view) ShareLockInstrument(ctx context.Context, id int64) (models.Instrument, error) {
	return v.GetInstrument(ctx, id)
}

func (v *view) UpdateInstrumentPrice(_ context.Context, id int64, price decimal.Decimal, at time.Time) error {
	inst, ok := v.st.instruments[id]
	if !ok {
		return notFound("instrument", id)
	}
	inst.CurrentPrice = price
	inst.LastRefreshed = at
	v.st.instruments[id] = inst
	return nil
}

func (v *view) LockPosition(_ context.Context, accountID, instrumentID int64) (models.Position, error) {
	for _, p := range v.st.positions {
		if p.AccountID == accountID && p.InstrumentID == instrumentID {
			return p, nil
		}
	}
	return models.Position{}, notFound("position", fmt.Sprintf("%d/%d", accountID, instrumentID))
}

func (v *view) SavePosition(_ context.Context, p *models.Position) error {
	if p.Quantity <= 0 {
		return fmt.Errorf("%w: position quantity %d", models.ErrInvalidArgument, p.Quantity)
	}
	if p.ID == 0 {
		p.ID = v.st.id()
	} else if _, ok := v.st.positions[p.ID]; !ok {
		return notFound("position", p.ID)
	}
	p.UpdatedAt = time.Now().UTC()
	v.st.positions[p.ID] = *p
	return nil
}

func (v *view) DeletePosition(_ context.Context, id int64) error {
	if _, ok := v.st.positions[id]; !ok {
		return notFound("position", id)
	}
	delete(v.st.positions, id)
	return nil
}

func (v *view) InsertStockTransaction(_ context.Context, st *models.StockTransaction) error {
	st.ID = v.st.id()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	v.st.stockTxs = append(v.st.stockTxs, *st)
	return nil
}
