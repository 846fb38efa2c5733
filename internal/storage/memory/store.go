// Package memory is an in-process storage.Store. Transactions are serialized
// by a single mutex and applied to a copy of the state that replaces the
// live state only on commit.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage"
)

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*view)(nil)

type state struct {
	nextID       int64
	accounts     map[int64]models.Account
	transactions []models.Transaction
	jobs         map[int64]models.Job
	quests       map[int64]models.Quest
	completions  map[int64]models.QuestCompletion
	instruments  map[int64]models.Instrument
	positions    map[int64]models.Position
	stockTxs     []models.StockTransaction
}

func newState() *state {
	return &state{
		accounts:    map[int64]models.Account{},
		jobs:        map[int64]models.Job{},
		quests:      map[int64]models.Quest{},
		completions: map[int64]models.QuestCompletion{},
		instruments: map[int64]models.Instrument{},
		positions:   map[int64]models.Position{},
	}
}

func (s *state) clone() *state {
	return &state{
		nextID:       s.nextID,
		accounts:     maps.Clone(s.accounts),
		transactions: slices.Clone(s.transactions),
		jobs:         maps.Clone(s.jobs),
		quests:       maps.Clone(s.quests),
		completions:  maps.Clone(s.completions),
		instruments:  maps.Clone(s.instruments),
		positions:    maps.Clone(s.positions),
		stockTxs:     slices.Clone(s.stockTxs),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store keeps all rows in memory.
type Store struct {
	mu  sync.RWMutex
	cur *state
}

func New() *Store {
	return &Store{cur: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.cur.clone()
	if err := fn(ctx, &view{st: work}); err != nil {
		return err
	}
	s.cur = work
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) read() *view {
	return &view{st: s.cur}
}

// The read methods below take the read lock and delegate to a view of the
// committed state.

func (s *Store) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAccount(ctx, id)
}

func (s *Store) ListRankings(ctx context.Context, limit int) ([]models.Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListRankings(ctx, limit)
}

func (s *Store) ListSalariesDue(ctx context.Context) ([]models.SalaryDue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListSalariesDue(ctx)
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactions(ctx, accountID, limit)
}

func (s *Store) SumLedger(ctx context.Context, accountID int64) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().SumLedger(ctx, accountID)
}

func (s *Store) GetJob(ctx context.Context, id int64) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetJob(ctx, id)
}

func (s *Store) ListJobs(ctx context.Context) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListJobs(ctx)
}

func (s *Store) GetQuest(ctx context.Context, id int64) (models.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetQuest(ctx, id)
}

func (s *Store) ListQuests(ctx context.Context) ([]models.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListQuests(ctx)
}

func (s *Store) GetCompletion(ctx context.Context, id int64) (models.QuestCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetCompletion(ctx, id)
}

func (s *Store) ListPendingCompletions(ctx context.Context) ([]models.PendingCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListPendingCompletions(ctx)
}

func (s *Store) CountCompletions(ctx context.Context, questID, accountID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountCompletions(ctx, questID, accountID, since)
}

func (s *Store) GetInstrument(ctx context.Context, id int64) (models.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetInstrument(ctx, id)
}

func (s *Store) GetInstrumentBySymbol(ctx context.Context, symbol string) (models.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetInstrumentBySymbol(ctx, symbol)
}

func (s *Store) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListInstruments(ctx)
}

func (s *Store) ListHoldings(ctx context.Context, accountID int64) ([]models.HoldingValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListHoldings(ctx, accountID)
}

func (s *Store) ListStockTransactions(ctx context.Context, accountID, instrumentID int64) ([]models.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListStockTransactions(ctx, accountID, instrumentID)
}

func notFound(what string, id any) error {
	return fmt.Errorf("%w: %s %v", models.ErrNotFound, what, id)
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) bool) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func sortHoldings(h []models.HoldingValue) {
	sort.Slice(h, func(i, j int) bool { return h[i].Symbol < h[j].Symbol })
}
