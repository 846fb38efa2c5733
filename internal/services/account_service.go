package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/classbank/economy/internal/audit"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage"
)

type AccountService struct {
	store     storage.Store
	audit     *audit.Logger
	validator *ValidationHelper
}

// NewAccount is the registration input handed over by the login layer.
type NewAccount struct {
	Username       string      `json:"username" validate:"required,min=2,max=64"`
	DisplayName    string      `json:"displayName" validate:"max=128"`
	Role           models.Role `json:"role" validate:"required,oneof=teacher student"`
	OpeningBalance int64       `json:"openingBalance" validate:"gte=0"`
}

func NewAccountService(store storage.Store) *AccountService {
	return &AccountService{
		store:     store,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// CreateAccount registers an account on a teacher's behalf. The opening
// balance becomes the account's initial balance and is not a ledger event.
func (s *AccountService) CreateAccount(ctx context.Context, actor models.Actor, req NewAccount) (models.Account, error) {
	if err := requireTeacher(actor, "create account"); err != nil {
		return models.Account{}, err
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Validate(&req); err != nil {
		return models.Account{}, err
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	acct := models.Account{
		Username:       req.Username,
		DisplayName:    req.DisplayName,
		Role:           req.Role,
		Balance:        req.OpeningBalance,
		InitialBalance: req.OpeningBalance,
		Active:         true,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertAccount(ctx, &acct)
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.audit.LogOperation("ACCOUNT_CREATED", actor.AccountID, fmt.Sprintf("%s (%s) opening balance %d", acct.Username, acct.Role, acct.InitialBalance))
	return acct, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID int64) (models.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

func (s *AccountService) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Deactivate retires an account. Its history and balance stay in place but
// it can no longer send or receive currency.
func (s *AccountService) Deactivate(ctx context.Context, actor models.Actor, accountID int64) error {
	if err := requireTeacher(actor, "deactivate account"); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.LockAccount(ctx, accountID); err != nil {
			return err
		}
		return tx.SetAccountActive(ctx, accountID, false)
	})
	if err != nil {
		return fmt.Errorf("deactivate account %d: %w", accountID, err)
	}
	s.audit.LogOperation("ACCOUNT_DEACTIVATED", actor.AccountID, fmt.Sprintf("account %d", accountID))
	return nil
}

// Rankings lists active accounts by balance, richest first. A limit of zero
// or less lists every account.
func (s *AccountService) Rankings(ctx context.Context, limit int) ([]models.Ranking, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := s.store.ListRankings(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("rankings: %w", err)
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// credit adds amount to a row locked in tx and keeps acct in step with the
// stored row. Callers pair it with a ledger entry in the same transaction.
func credit(ctx context.Context, tx storage.Tx, acct *models.Account, amount int64) error {
	if !acct.Active {
		return fmt.Errorf("%w: account %d is inactive", models.ErrNotFound, acct.ID)
	}
	if amount > math.MaxInt64-acct.Balance {
		return fmt.Errorf("%w: crediting %d would overflow account %d", models.ErrInvalidArgument, amount, acct.ID)
	}
	if err := tx.UpdateAccountBalance(ctx, acct.ID, acct.Balance+amount, acct.Version); err != nil {
		return err
	}
	acct.Balance += amount
	acct.Version++
	return nil
}

// debit subtracts amount from a row locked in tx, refusing to go negative.
func debit(ctx context.Context, tx storage.Tx, acct *models.Account, amount int64) error {
	if !acct.Active {
		return fmt.Errorf("%w: account %d is inactive", models.ErrNotFound, acct.ID)
	}
	if acct.Balance < amount {
		return fmt.Errorf("%w: account %d holds %d, needs %d", models.ErrInsufficientFunds, acct.ID, acct.Balance, amount)
	}
	if err := tx.UpdateAccountBalance(ctx, acct.ID, acct.Balance-amount, acct.Version); err != nil {
		return err
	}
	acct.Balance -= amount
	acct.Version++
	return nil
}
