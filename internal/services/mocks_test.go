package services

import (
	"context"
	"testing"

	"github.com/classbank/economy/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) FetchCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func TestTradingServiceUsesFeed(t *testing.T) {
	ctx := context.Background()
	e := newEconomy(t)
	teacher := e.account(t, "teacher", models.RoleTeacher, 0)

	feed := new(MockFeed)
	trading := NewTradingService(e.store, e.ledger, feed)

	feed.On("FetchCurrentPrice", mock.Anything, "ACME").Return(decimal.RequireFromString("3.14159"), nil).Once()
	inst, err := trading.AddInstrument(ctx, teacher, "acme", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "3.1416", inst.CurrentPrice.String())

	feed.On("FetchCurrentPrice", mock.Anything, "ACME").Return(decimal.Zero, models.ErrPriceUnavailable).Once()
	report, err := trading.RefreshPrices(ctx, teacher)
	require.NoError(t, err)
	assert.Empty(t, report.Updated)
	require.Len(t, report.Failed, 1)

	feed.On("FetchCurrentPrice", mock.Anything, "ACME").Return(decimal.RequireFromString("0.00001"), nil).Once()
	report, err = trading.RefreshPrices(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, report.Failed, 1, "a price that rounds to zero is unavailable")

	feed.On("FetchCurrentPrice", mock.Anything, "ACME").Return(decimal.RequireFromString("2.5"), nil).Once()
	report, err = trading.RefreshPrices(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, report.Updated, 1)
	assert.Equal(t, "2.5", report.Updated[0].CurrentPrice.String())

	feed.AssertExpectations(t)
}
