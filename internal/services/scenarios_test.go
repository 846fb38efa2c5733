package services

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/classbank/economy/internal/market"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type economy struct {
	store     *memory.Store
	feed      *market.StaticFeed
	accounts  *AccountService
	ledger    *LedgerService
	transfers *TransferService
	jobs      *JobService
	quests    *QuestService
	trading   *TradingService
}

type tb interface {
	require.TestingT
	Helper()
}

func newEconomy(t tb) *economy {
	t.Helper()
	store := memory.New()
	ledger := NewLedgerService(store)
	feed := market.NewStaticFeed(map[string]decimal.Decimal{"X": decimal.RequireFromString("5.00")})
	return &economy{
		store:     store,
		feed:      feed,
		accounts:  NewAccountService(store),
		ledger:    ledger,
		transfers: NewTransferService(store, ledger),
		jobs:      NewJobService(store, ledger),
		quests:    NewQuestService(store, ledger),
		trading:   NewTradingService(store, ledger, feed),
	}
}

func (e *economy) account(t tb, username string, role models.Role, balance int64) models.Actor {
	t.Helper()
	acct, err := e.accounts.CreateAccount(context.Background(), models.System, NewAccount{
		Username:       username,
		Role:           role,
		OpeningBalance: balance,
	})
	require.NoError(t, err)
	return models.Actor{AccountID: acct.ID, Role: role}
}

func (e *economy) balance(t *testing.T, a models.Actor) int64 {
	t.Helper()
	b, err := e.accounts.GetBalance(context.Background(), a.AccountID)
	require.NoError(t, err)
	return b
}

func (e *economy) assertReconciled(t *testing.T, actors ...models.Actor) {
	t.Helper()
	for _, a := range actors {
		rec, err := e.ledger.Reconcile(context.Background(), a.AccountID)
		require.NoError(t, err)
		assert.True(t, rec.Balanced(), "account %d: expected %d, stored %d", a.AccountID, rec.Expected, rec.Actual)
	}
}

func TestTransferScenario(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacherA := e.account(t, "teacher-a", models.RoleTeacher, 1000)
	studentB := e.account(t, "student-b", models.RoleStudent, 0)

	entry, err := e.transfers.Transfer(ctx, teacherA, teacherA.AccountID, studentB.AccountID, 200, "")
	require.NoError(t, err)

	assert.Equal(t, int64(800), e.balance(t, teacherA))
	assert.Equal(t, int64(200), e.balance(t, studentB))

	history, err := e.ledger.History(ctx, studentB, studentB.AccountID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entry.ID, history[0].ID)
	assert.Equal(t, models.KindTransfer, history[0].Kind)
	assert.Equal(t, int64(200), history[0].SignedAmount(studentB.AccountID))

	t.Run("student cannot transfer", func(t *testing.T) {
		_, err := e.transfers.Transfer(ctx, studentB, studentB.AccountID, teacherA.AccountID, 10, "")
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
		assert.Equal(t, int64(200), e.balance(t, studentB))
	})

	t.Run("student cannot read another history", func(t *testing.T) {
		_, err := e.ledger.History(ctx, studentB, teacherA.AccountID, 0)
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
	})

	t.Run("overdraft leaves state unchanged", func(t *testing.T) {
		_, err := e.transfers.Transfer(ctx, teacherA, studentB.AccountID, teacherA.AccountID, 201, "")
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.Equal(t, int64(800), e.balance(t, teacherA))
		assert.Equal(t, int64(200), e.balance(t, studentB))
	})

	t.Run("refund once", func(t *testing.T) {
		refund, err := e.transfers.Refund(ctx, teacherA, entry.ID, "")
		require.NoError(t, err)
		assert.Equal(t, models.KindRefund, refund.Kind)
		require.NotNil(t, refund.RefundOf)
		assert.Equal(t, entry.ID, *refund.RefundOf)
		assert.Equal(t, int64(1000), e.balance(t, teacherA))
		assert.Equal(t, int64(0), e.balance(t, studentB))

		_, err = e.transfers.Refund(ctx, teacherA, entry.ID, "")
		assert.ErrorIs(t, err, models.ErrAlreadyRefunded)

		_, err = e.transfers.Refund(ctx, teacherA, refund.ID, "")
		assert.ErrorIs(t, err, models.ErrNotRefundable)
	})

	e.assertReconciled(t, teacherA, studentB)
}

func TestTradingScenarios(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	student := e.account(t, "student", models.RoleStudent, 100)

	inst, err := e.trading.AddInstrument(ctx, teacher, "x", "Instrument X")
	require.NoError(t, err)
	assert.Equal(t, "X", inst.Symbol)

	// Buy 10 at 5.00, then 5 at 7.00.
	res, err := e.trading.Buy(ctx, student, student.AccountID, inst.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Balance)
	assert.Equal(t, int64(10), res.Position.Quantity)
	assert.Equal(t, "5", res.Position.AverageCost.String())

	e.feed.Set("X", decimal.RequireFromString("7.00"))
	_, err = e.trading.RefreshPrices(ctx, teacher)
	require.NoError(t, err)

	res, err = e.trading.Buy(ctx, student, student.AccountID, inst.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), res.Balance)
	assert.Equal(t, int64(15), res.Position.Quantity)
	assert.True(t, decimal.RequireFromString("5.67").Equal(res.Position.AverageCost), res.Position.AverageCost.String())

	t.Run("portfolio valuation", func(t *testing.T) {
		p, err := e.trading.PortfolioValue(ctx, student, student.AccountID)
		require.NoError(t, err)
		require.Len(t, p.Holdings, 1)
		assert.True(t, decimal.NewFromInt(105).Equal(p.MarketValue), p.MarketValue.String())
		assert.True(t, decimal.RequireFromString("85.05").Equal(p.CostBasis), p.CostBasis.String())
		assert.True(t, decimal.RequireFromString("19.95").Equal(p.UnrealizedPnL), p.UnrealizedPnL.String())
	})

	t.Run("cannot oversell", func(t *testing.T) {
		_, err := e.trading.Sell(ctx, student, student.AccountID, inst.ID, 16)
		assert.ErrorIs(t, err, models.ErrInsufficientShares)
	})

	t.Run("cannot trade for someone else", func(t *testing.T) {
		other := e.account(t, "other", models.RoleStudent, 100)
		_, err := e.trading.Buy(ctx, other, student.AccountID, inst.ID, 1)
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
	})

	// Sell everything at 8.00.
	e.feed.Set("X", decimal.RequireFromString("8.00"))
	_, err = e.trading.RefreshPrices(ctx, teacher)
	require.NoError(t, err)

	res, err = e.trading.Sell(ctx, student, student.AccountID, inst.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(135), res.Balance)
	assert.Equal(t, int64(120), res.Trade.Total)
	assert.Equal(t, models.DirectionSell, res.Trade.Direction)
	assert.Equal(t, int64(0), res.Position.Quantity)

	p, err := e.trading.PortfolioValue(ctx, student, student.AccountID)
	require.NoError(t, err)
	assert.Empty(t, p.Holdings)

	_, err = e.trading.Sell(ctx, student, student.AccountID, inst.ID, 1)
	assert.ErrorIs(t, err, models.ErrInsufficientShares)

	history, err := e.trading.StockHistory(ctx, student, student.AccountID, inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	replayed := models.ReplayPosition(history[:2])
	assert.True(t, decimal.RequireFromString("5.67").Equal(replayed.AverageCost))
	assert.Equal(t, int64(0), models.ReplayPosition(history).Quantity)

	e.assertReconciled(t, student)
}

func TestTradingEdgeCases(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	student := e.account(t, "student", models.RoleStudent, 10)

	t.Run("instrument needs a price", func(t *testing.T) {
		_, err := e.trading.AddInstrument(ctx, teacher, "NOPE", "")
		assert.ErrorIs(t, err, models.ErrPriceUnavailable)
	})

	t.Run("duplicate symbol", func(t *testing.T) {
		_, err := e.trading.AddInstrument(ctx, teacher, "X", "")
		require.NoError(t, err)
		_, err = e.trading.AddInstrument(ctx, teacher, " x ", "")
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
	})

	t.Run("students cannot add instruments", func(t *testing.T) {
		_, err := e.trading.AddInstrument(ctx, student, "X", "")
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
	})

	t.Run("students cannot refresh prices", func(t *testing.T) {
		_, err := e.trading.RefreshPrices(ctx, student)
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
	})

	t.Run("cost rounds up and proceeds round down", func(t *testing.T) {
		e.feed.Set("CHEAP", decimal.RequireFromString("0.30"))
		inst, err := e.trading.AddInstrument(ctx, teacher, "CHEAP", "")
		require.NoError(t, err)

		res, err := e.trading.Buy(ctx, student, student.AccountID, inst.ID, 5) // 1.50 -> 2
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Trade.Total)
		assert.Equal(t, int64(8), res.Balance)

		res, err = e.trading.Sell(ctx, student, student.AccountID, inst.ID, 3) // 0.90 -> 0
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Trade.Total)
		assert.Nil(t, res.Entry)
		assert.Equal(t, int64(8), res.Balance)
		assert.Equal(t, int64(2), res.Position.Quantity)

		e.assertReconciled(t, student)
	})

	t.Run("refresh keeps stale price on failure", func(t *testing.T) {
		e.feed.Set("X", decimal.Zero) // drop the symbol from the feed
		report, err := e.trading.RefreshPrices(ctx, teacher)
		require.NoError(t, err)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, "X", report.Failed[0].Symbol)

		x, err := e.store.GetInstrumentBySymbol(ctx, "X")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("5").Equal(x.CurrentPrice))
	})

	t.Run("quantity must be positive", func(t *testing.T) {
		_, err := e.trading.Buy(ctx, student, student.AccountID, 1, 0)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	})
}

func TestQuestScenario(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	student := e.account(t, "student", models.RoleStudent, 0)

	quest, err := e.quests.CreateQuest(ctx, teacher, NewQuest{Title: "Read a chapter", Reward: 50})
	require.NoError(t, err)

	_, err = e.quests.CreateQuest(ctx, student, NewQuest{Title: "Free money", Reward: 1000})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	completion, err := e.quests.SubmitCompletion(ctx, student, quest.ID)
	require.NoError(t, err)
	assert.True(t, completion.Pending())

	_, err = e.quests.SubmitCompletion(ctx, student, quest.ID)
	assert.ErrorIs(t, err, models.ErrAlreadySubmitted)

	pending, err := e.quests.PendingCompletions(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "student", pending[0].Username)

	_, err = e.quests.VerifyCompletion(ctx, student, completion.ID)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	entry, err := e.quests.VerifyCompletion(ctx, teacher, completion.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindQuest, entry.Kind)
	assert.Equal(t, int64(50), e.balance(t, student))

	verified, err := e.store.GetCompletion(ctx, completion.ID)
	require.NoError(t, err)
	require.NotNil(t, verified.VerifiedBy)
	assert.Equal(t, teacher.AccountID, *verified.VerifiedBy)

	_, err = e.quests.VerifyCompletion(ctx, teacher, completion.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyVerified)
	assert.Equal(t, int64(50), e.balance(t, student))

	available, err := e.quests.AvailableQuests(ctx, student)
	require.NoError(t, err)
	assert.Empty(t, available)

	e.assertReconciled(t, student)
}

func TestDailyQuestResubmission(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	student := e.account(t, "student", models.RoleStudent, 0)

	day := time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)
	e.quests.now = func() time.Time { return day }

	daily, err := e.quests.CreateQuest(ctx, teacher, NewQuest{Title: "Homework", Reward: 5, IsDaily: true})
	require.NoError(t, err)

	_, err = e.quests.SubmitCompletion(ctx, student, daily.ID)
	require.NoError(t, err)
	_, err = e.quests.SubmitCompletion(ctx, student, daily.ID)
	assert.ErrorIs(t, err, models.ErrAlreadySubmitted)

	day = day.Add(time.Hour) // next UTC day
	available, err := e.quests.AvailableQuests(ctx, student)
	require.NoError(t, err)
	require.Len(t, available, 1)

	_, err = e.quests.SubmitCompletion(ctx, student, daily.ID)
	assert.NoError(t, err)
}

func TestSalaryBatch(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	alice := e.account(t, "alice", models.RoleStudent, 0)
	bob := e.account(t, "bob", models.RoleStudent, 0)
	carol := e.account(t, "carol", models.RoleStudent, 0)

	banker, err := e.jobs.CreateJob(ctx, teacher, NewJob{Name: "Banker", Salary: 30})
	require.NoError(t, err)
	clerk, err := e.jobs.CreateJob(ctx, teacher, NewJob{Name: "Clerk", Salary: 10})
	require.NoError(t, err)

	_, err = e.jobs.CreateJob(ctx, teacher, NewJob{Name: "Unpaid", Salary: 0})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	require.NoError(t, e.jobs.AssignJob(ctx, teacher, alice.AccountID, banker.ID))
	require.NoError(t, e.jobs.AssignJob(ctx, teacher, bob.AccountID, clerk.ID))
	require.NoError(t, e.jobs.AssignJob(ctx, teacher, bob.AccountID, banker.ID)) // overwrite
	require.NoError(t, e.jobs.AssignJob(ctx, teacher, carol.AccountID, clerk.ID))
	require.NoError(t, e.jobs.UnassignJob(ctx, teacher, carol.AccountID))

	assert.ErrorIs(t, e.jobs.AssignJob(ctx, alice, alice.AccountID, banker.ID), models.ErrPermissionDenied)
	assert.ErrorIs(t, e.jobs.AssignJob(ctx, teacher, alice.AccountID, 9999), models.ErrNotFound)

	_, err = e.jobs.ProcessMonthlySalaries(ctx, alice)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	report, err := e.jobs.ProcessMonthlySalaries(ctx, teacher)
	require.NoError(t, err)
	assert.Len(t, report.Paid, 2)
	assert.Empty(t, report.Failed)
	assert.Equal(t, int64(60), report.Total)
	assert.Equal(t, int64(30), e.balance(t, alice))
	assert.Equal(t, int64(30), e.balance(t, bob))
	assert.Equal(t, int64(0), e.balance(t, carol))

	// No period guard: a second run pays again.
	_, err = e.jobs.ProcessMonthlySalaries(ctx, teacher)
	require.NoError(t, err)
	assert.Equal(t, int64(60), e.balance(t, alice))

	e.assertReconciled(t, alice, bob, carol)
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 500)
	rich := e.account(t, "rich", models.RoleStudent, 300)
	poor := e.account(t, "poor", models.RoleStudent, 5)

	_, err := e.accounts.CreateAccount(ctx, teacher, NewAccount{Username: "rich", Role: models.RoleStudent})
	assert.ErrorIs(t, err, models.ErrAlreadyExists)

	_, err = e.accounts.CreateAccount(ctx, teacher, NewAccount{Username: "x", Role: "principal"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = e.accounts.CreateAccount(ctx, rich, NewAccount{Username: "minted", Role: models.RoleStudent, OpeningBalance: 1_000_000})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	_, err = e.accounts.GetBalance(ctx, 9999)
	assert.ErrorIs(t, err, models.ErrNotFound)

	rankings, err := e.accounts.Rankings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rankings, 3)
	assert.Equal(t, teacher.AccountID, rankings[0].AccountID)
	assert.Equal(t, 1, rankings[0].Rank)
	assert.Equal(t, rich.AccountID, rankings[1].AccountID)

	assert.ErrorIs(t, e.accounts.Deactivate(ctx, rich, poor.AccountID), models.ErrPermissionDenied)
	require.NoError(t, e.accounts.Deactivate(ctx, teacher, poor.AccountID))

	_, err = e.transfers.Transfer(ctx, teacher, teacher.AccountID, poor.AccountID, 10, "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	rankings, err = e.accounts.Rankings(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rankings, 2)

	rankings, err = e.accounts.Rankings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, teacher.AccountID, rankings[0].AccountID)
}

func TestRankingsListEveryAccount(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	const n = 150
	for i := 0; i < n; i++ {
		e.account(t, fmt.Sprintf("student-%03d", i), models.RoleStudent, int64(i))
	}

	all, err := e.accounts.Rankings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, n)
	assert.Equal(t, int64(n-1), all[0].Balance)
	assert.Equal(t, n, all[n-1].Rank)
	assert.Equal(t, int64(0), all[n-1].Balance)

	negative, err := e.accounts.Rankings(ctx, -5)
	require.NoError(t, err)
	assert.Len(t, negative, n)
}

func TestTradeLimits(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 100)
	student := e.account(t, "student", models.RoleStudent, 100)
	whale := e.account(t, "whale", models.RoleStudent, math.MaxInt64)

	inst, err := e.trading.AddInstrument(ctx, teacher, "X", "")
	require.NoError(t, err)

	t.Run("trade value beyond int64 is rejected", func(t *testing.T) {
		// 5 * 3689348814741910324 wraps to 4 in int64 arithmetic.
		_, err := e.trading.Buy(ctx, student, student.AccountID, inst.ID, 3689348814741910324)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
		assert.Equal(t, int64(100), e.balance(t, student))

		history, err := e.trading.StockHistory(ctx, student, student.AccountID, inst.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("position quantity cannot overflow", func(t *testing.T) {
		e.feed.Set("PENNY", decimal.RequireFromString("0.0001"))
		penny, err := e.trading.AddInstrument(ctx, teacher, "PENNY", "")
		require.NoError(t, err)

		res, err := e.trading.Buy(ctx, whale, whale.AccountID, penny.ID, math.MaxInt64-5)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64-5), res.Position.Quantity)

		_, err = e.trading.Buy(ctx, whale, whale.AccountID, penny.ID, 10)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)

		p, err := e.trading.PortfolioValue(ctx, whale, whale.AccountID)
		require.NoError(t, err)
		require.Len(t, p.Holdings, 1)
		assert.Equal(t, int64(math.MaxInt64-5), p.Holdings[0].Quantity)
		e.assertReconciled(t, whale)
	})

	t.Run("credit beyond int64 is rejected", func(t *testing.T) {
		rich := e.account(t, "rich", models.RoleStudent, math.MaxInt64)
		_, err := e.transfers.Transfer(ctx, teacher, teacher.AccountID, rich.AccountID, 1, "")
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
		assert.Equal(t, int64(100), e.balance(t, teacher))
		assert.Equal(t, int64(math.MaxInt64), e.balance(t, rich))
	})
}
