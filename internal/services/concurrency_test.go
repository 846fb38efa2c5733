package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/classbank/economy/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	payer := e.account(t, "payer", models.RoleStudent, 100)
	payees := make([]models.Actor, 4)
	for i := range payees {
		payees[i] = e.account(t, fmt.Sprintf("payee-%d", i), models.RoleStudent, 0)
	}

	const workers = 40
	var (
		wg        sync.WaitGroup
		succeeded int32
		failures  = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := payees[i%len(payees)]
			_, err := e.transfers.Transfer(ctx, teacher, payer.AccountID, to.AccountID, 10, "")
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case !errors.Is(err, models.ErrInsufficientFunds):
				failures <- err
			}
		}(i)
	}
	wg.Wait()
	close(failures)
	for err := range failures {
		t.Errorf("unexpected transfer error: %v", err)
	}

	assert.Equal(t, int32(10), succeeded)
	assert.Equal(t, int64(0), e.balance(t, payer))
	var received int64
	for _, p := range payees {
		received += e.balance(t, p)
	}
	assert.Equal(t, int64(100), received)
	e.assertReconciled(t, append(payees, payer)...)
}

func TestConcurrentBuysKeepAverageCost(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	student := e.account(t, "student", models.RoleStudent, 100000)

	inst, err := e.trading.AddInstrument(ctx, teacher, "X", "")
	require.NoError(t, err)

	prices := []string{"5.00", "7.00", "6.25", "9.10"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := e.trading.Buy(ctx, student, student.AccountID, inst.ID, int64(i%5+1))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			e.feed.Set("X", decimal.RequireFromString(prices[i%len(prices)]))
			_, err := e.trading.RefreshPrices(ctx, teacher)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := e.trading.StockHistory(ctx, student, student.AccountID, inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 20)
	replayed := models.ReplayPosition(history)

	p, err := e.trading.PortfolioValue(ctx, student, student.AccountID)
	require.NoError(t, err)
	require.Len(t, p.Holdings, 1)
	assert.Equal(t, int64(60), p.Holdings[0].Quantity)
	assert.Equal(t, replayed.Quantity, p.Holdings[0].Quantity)
	assert.True(t, replayed.AverageCost.Equal(p.Holdings[0].AverageCost),
		"stored %s, replayed %s", p.Holdings[0].AverageCost, replayed.AverageCost)

	var spent int64
	for _, st := range history {
		spent += st.Total
	}
	assert.Equal(t, int64(100000)-spent, e.balance(t, student))
	e.assertReconciled(t, student)
}

func TestConcurrentVerificationPaysOnce(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	other := e.account(t, "other-teacher", models.RoleTeacher, 0)
	student := e.account(t, "student", models.RoleStudent, 0)

	quest, err := e.quests.CreateQuest(ctx, teacher, NewQuest{Title: "Lab report", Reward: 50})
	require.NoError(t, err)
	completion, err := e.quests.SubmitCompletion(ctx, student, quest.ID)
	require.NoError(t, err)

	const workers = 16
	var (
		wg       sync.WaitGroup
		paid     int32
		verified int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verifier := teacher
			if i%2 == 1 {
				verifier = other
			}
			_, err := e.quests.VerifyCompletion(ctx, verifier, completion.ID)
			switch {
			case err == nil:
				atomic.AddInt32(&paid, 1)
			case errors.Is(err, models.ErrAlreadyVerified):
				atomic.AddInt32(&verified, 1)
			default:
				t.Errorf("unexpected verify error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), paid)
	assert.Equal(t, int32(workers-1), verified)
	assert.Equal(t, int64(50), e.balance(t, student))
	e.assertReconciled(t, student)
}

func TestConcurrentSubmissionsAcceptOne(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)
	student := e.account(t, "student", models.RoleStudent, 0)

	quest, err := e.quests.CreateQuest(ctx, teacher, NewQuest{Title: "Essay", Reward: 20})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		accepted int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.quests.SubmitCompletion(ctx, student, quest.ID)
			if err == nil {
				atomic.AddInt32(&accepted, 1)
				return
			}
			assert.ErrorIs(t, err, models.ErrAlreadySubmitted)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
	pending, err := e.quests.PendingCompletions(ctx, teacher)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
