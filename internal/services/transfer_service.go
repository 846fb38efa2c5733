package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/classbank/economy/internal/audit"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage"
	"github.com/sirupsen/logrus"
)

// TransferService moves currency directly between two accounts.
type TransferService struct {
	store  storage.Store
	ledger *LedgerService
	audit  *audit.Logger
	log    *logrus.Entry
}

func NewTransferService(store storage.Store, ledger *LedgerService) *TransferService {
	return &TransferService{
		store:  store,
		ledger: ledger,
		audit:  audit.NewLogger(),
		log:    logrus.WithField("service", "transfer"),
	}
}

// Transfer debits from, credits to and records one transfer entry, all in a
// single transaction. Only teachers may move currency.
func (s *TransferService) Transfer(ctx context.Context, actor models.Actor, fromAccountID, toAccountID, amount int64, description string) (models.Transaction, error) {
	if err := requireTeacher(actor, "transfer"); err != nil {
		return models.Transaction{}, err
	}
	if amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: transfer amount must be positive, got %d", models.ErrInvalidArgument, amount)
	}
	if fromAccountID == toAccountID {
		return models.Transaction{}, fmt.Errorf("%w: cannot transfer to the same account", models.ErrInvalidArgument)
	}

	var entry models.Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		from, to, err := lockPair(ctx, tx, fromAccountID, toAccountID)
		if err != nil {
			return err
		}
		if err := debit(ctx, tx, &from, amount); err != nil {
			return err
		}
		if err := credit(ctx, tx, &to, amount); err != nil {
			return err
		}
		entry, err = s.ledger.Record(ctx, tx, Entry{
			Source:      models.Int64Ptr(from.ID),
			Destination: models.Int64Ptr(to.ID),
			Amount:      amount,
			Kind:        models.KindTransfer,
			Description: description,
			CreatedBy:   actor.AccountID,
		})
		return err
	})
	if err != nil {
		s.audit.LogError("transfer", actor.AccountID, fromAccountID, err)
		return models.Transaction{}, fmt.Errorf("transfer %d -> %d: %w", fromAccountID, toAccountID, err)
	}

	committed(entry)
	s.audit.LogTransfer(entry.ID, actor.AccountID, fromAccountID, toAccountID, amount)
	return entry, nil
}

// Refund reverses a transfer: the original destination pays the original
// source back. Each transfer can be refunded once.
func (s *TransferService) Refund(ctx context.Context, actor models.Actor, transactionID int64, description string) (models.Transaction, error) {
	if err := requireTeacher(actor, "refund"); err != nil {
		return models.Transaction{}, err
	}

	var entry models.Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		original, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if original.Kind != models.KindTransfer || original.SourceID == nil || original.DestinationID == nil {
			return fmt.Errorf("%w: transaction %d is a %s entry", models.ErrNotRefundable, transactionID, original.Kind)
		}
		payer, payee, err := lockPair(ctx, tx, *original.DestinationID, *original.SourceID)
		if err != nil {
			return err
		}
		// Checked after the locks so a concurrent refund of the same
		// transfer is already visible.
		switch _, err := tx.FindRefund(ctx, transactionID); {
		case err == nil:
			return fmt.Errorf("%w: transaction %d", models.ErrAlreadyRefunded, transactionID)
		case !errors.Is(err, models.ErrNotFound):
			return err
		}
		if err := debit(ctx, tx, &payer, original.Amount); err != nil {
			return err
		}
		if err := credit(ctx, tx, &payee, original.Amount); err != nil {
			return err
		}
		if description == "" {
			description = fmt.Sprintf("Refund of transaction %d", transactionID)
		}
		entry, err = s.ledger.Record(ctx, tx, Entry{
			Source:      models.Int64Ptr(payer.ID),
			Destination: models.Int64Ptr(payee.ID),
			Amount:      original.Amount,
			Kind:        models.KindRefund,
			Description: description,
			CreatedBy:   actor.AccountID,
			RefundOf:    models.Int64Ptr(transactionID),
		})
		return err
	})
	if err != nil {
		s.audit.LogError("refund", actor.AccountID, 0, err)
		return models.Transaction{}, fmt.Errorf("refund transaction %d: %w", transactionID, err)
	}

	committed(entry)
	s.audit.LogTransfer(entry.ID, actor.AccountID, *entry.SourceID, *entry.DestinationID, entry.Amount)
	s.log.WithFields(logrus.Fields{"refund_of": transactionID, "transaction_id": entry.ID}).Info("transfer refunded")
	return entry, nil
}

// lockPair locks two accounts in ascending id order to avoid deadlocks and
// returns them in the order they were asked for.
func lockPair(ctx context.Context, tx storage.Tx, firstID, secondID int64) (models.Account, models.Account, error) {
	lo, hi := firstID, secondID
	if lo > hi {
		lo, hi = hi, lo
	}
	loAcct, err := tx.LockAccount(ctx, lo)
	if err != nil {
		return models.Account{}, models.Account{}, err
	}
	hiAcct, err := tx.LockAccount(ctx, hi)
	if err != nil {
		return models.Account{}, models.Account{}, err
	}
	if lo == firstID {
		return loAcct, hiAcct, nil
	}
	return hiAcct, loAcct, nil
}
