package services

import (
	"context"
	"fmt"

	"github.com/classbank/economy/internal/metrics"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage"
	"github.com/google/uuid"
)

const defaultHistoryLimit = 50

// Entry describes a ledger row to append. A nil Source or Destination is
// the system side.
type Entry struct {
	Source      *int64
	Destination *int64
	Amount      int64
	Kind        models.TxKind
	Description string
	CreatedBy   int64
	RefundOf    *int64
}

// LedgerService is the append-only audit trail of balance changes.
type LedgerService struct {
	store storage.Store
}

func NewLedgerService(store storage.Store) *LedgerService {
	return &LedgerService{store: store}
}

// Record appends one entry inside tx. It never adjusts balances.
func (s *LedgerService) Record(ctx context.Context, tx storage.Tx, e Entry) (models.Transaction, error) {
	if e.Amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: ledger amount must be positive, got %d", models.ErrInvalidArgument, e.Amount)
	}
	if e.Source == nil && e.Destination == nil {
		return models.Transaction{}, fmt.Errorf("%w: ledger entry needs a source or a destination", models.ErrInvalidArgument)
	}
	if !e.Kind.Valid() {
		return models.Transaction{}, fmt.Errorf("%w: unknown ledger kind %q", models.ErrInvalidArgument, e.Kind)
	}
	entry := models.Transaction{
		Reference:     uuid.NewString(),
		SourceID:      e.Source,
		DestinationID: e.Destination,
		Amount:        e.Amount,
		Kind:          e.Kind,
		Description:   e.Description,
		CreatedBy:     e.CreatedBy,
		RefundOf:      e.RefundOf,
	}
	if err := tx.InsertTransaction(ctx, &entry); err != nil {
		return models.Transaction{}, fmt.Errorf("record %s entry: %w", e.Kind, err)
	}
	return entry, nil
}

// committed publishes metrics for entries whose transaction has committed.
func committed(entries ...models.Transaction) {
	for _, e := range entries {
		metrics.RecordLedgerEntry(e.Kind, e.Amount)
	}
}

// History returns the newest entries touching an account.
func (s *LedgerService) History(ctx context.Context, actor models.Actor, accountID int64, limit int) ([]models.Transaction, error) {
	if err := requireActs(actor, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID, limit)
}

// Reconcile recomputes an account's balance from its initial balance and the
// ledger and reports it next to the stored balance.
func (s *LedgerService) Reconcile(ctx context.Context, accountID int64) (models.Reconciliation, error) {
	var rec models.Reconciliation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		credits, debits, err := tx.SumLedger(ctx, accountID)
		if err != nil {
			return err
		}
		rec = models.Reconciliation{
			AccountID:      accountID,
			InitialBalance: acct.InitialBalance,
			Credits:        credits,
			Debits:         debits,
			Expected:       acct.InitialBalance + credits - debits,
			Actual:         acct.Balance,
		}
		return nil
	})
	if err != nil {
		return models.Reconciliation{}, fmt.Errorf("reconcile account %d: %w", accountID, err)
	}
	return rec, nil
}
