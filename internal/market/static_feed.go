package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// StaticFeed serves prices from memory. It backs demo mode and tests.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticFeed(prices map[string]decimal.Decimal) *StaticFeed {
	f := &StaticFeed{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		f.prices[NormalizeSymbol(sym)] = p
	}
	return f
}

// ParseStaticPrices reads a symbol -> price map such as one loaded from
// configuration.
func ParseStaticPrices(raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for sym, s := range raw {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("static price for %s: %w", sym, err)
		}
		out[NormalizeSymbol(sym)] = p
	}
	return out, nil
}

// Set replaces one price; a non-positive price removes the symbol.
func (f *StaticFeed) Set(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !price.IsPositive() {
		delete(f.prices, NormalizeSymbol(symbol))
		return
	}
	f.prices[NormalizeSymbol(symbol)] = price
}

func (f *StaticFeed) FetchCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	f.mu.RLock()
	p, ok := f.prices[NormalizeSymbol(symbol)]
	f.mu.RUnlock()
	if !ok {
		return decimal.Zero, unavailable(symbol, "unknown symbol")
	}
	return p, nil
}
