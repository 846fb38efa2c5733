// Package market supplies current instrument prices to the trading engine.
package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/classbank/economy/internal/models"
	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned by every Feed that cannot produce a price.
var ErrPriceUnavailable = models.ErrPriceUnavailable

// Feed looks up the current price of a symbol.
type Feed interface {
	FetchCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// FeedFunc adapts a function to the Feed interface.
type FeedFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

func (f FeedFunc) FetchCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f == nil {
		return decimal.Zero, unavailable(symbol, "no feed configured")
	}
	return f(ctx, symbol)
}

// NormalizeSymbol is the canonical form under which symbols are stored and
// looked up.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func unavailable(symbol, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrPriceUnavailable, symbol, reason)
}
