package models

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// CostScale is the number of decimal places kept for a position's average cost.
	CostScale = 2
	// PriceScale is the number of decimal places kept for a quoted price.
	PriceScale = 4
)

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Instrument is a tracked stock with its last fetched price.
type Instrument struct {
	ID            int64           `json:"id" db:"id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	CurrentPrice  decimal.Decimal `json:"currentPrice" db:"current_price"`
	LastRefreshed time.Time       `json:"lastRefreshed" db:"last_refreshed"`
}

// Position is an account's holding in one instrument. The row disappears
// when Quantity reaches zero.
type Position struct {
	ID           int64           `json:"id" db:"id"`
	AccountID    int64           `json:"accountId" db:"account_id"`
	InstrumentID int64           `json:"instrumentId" db:"instrument_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AverageCost  decimal.Decimal `json:"averageCost" db:"average_cost"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// Bought returns the position after buying qty units at price.
//
//	new_avg = (old_qty*old_avg + qty*price) / (old_qty + qty)
func (p Position) Bought(qty int64, price decimal.Decimal) Position {
	if p.Quantity == 0 {
		p.Quantity = qty
		p.AverageCost = price.Round(CostScale)
		return p
	}
	held := decimal.NewFromInt(p.Quantity).Mul(p.AverageCost)
	added := decimal.NewFromInt(qty).Mul(price)
	total := p.Quantity + qty
	p.AverageCost = held.Add(added).Div(decimal.NewFromInt(total)).Round(CostScale)
	p.Quantity = total
	return p
}

// Sold returns the position after selling qty units. Average cost is unchanged.
func (p Position) Sold(qty int64) Position {
	p.Quantity -= qty
	if p.Quantity == 0 {
		p.AverageCost = decimal.Zero
	}
	return p
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// BuyCost is the whole-unit currency charged for qty shares, rounded up.
func BuyCost(price decimal.Decimal, qty int64) (int64, error) {
	return wholeUnits(price.Mul(decimal.NewFromInt(qty)).Ceil())
}

// SellProceeds is the whole-unit currency paid out for qty shares, rounded down.
func SellProceeds(price decimal.Decimal, qty int64) (int64, error) {
	return wholeUnits(price.Mul(decimal.NewFromInt(qty)).Floor())
}

func wholeUnits(v decimal.Decimal) (int64, error) {
	if v.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: trade value %s exceeds the largest balance", ErrInvalidArgument, v)
	}
	return v.IntPart(), nil
}

// CanAdd reports whether qty more shares fit in the position.
func (p Position) CanAdd(qty int64) bool {
	return qty >= 0 && p.Quantity <= math.MaxInt64-qty
}

// StockTransaction is an immutable trade record.
type StockTransaction struct {
	ID           int64           `json:"id" db:"id"`
	AccountID    int64           `json:"accountId" db:"account_id"`
	InstrumentID int64           `json:"instrumentId" db:"instrument_id"`
	Direction    Direction       `json:"direction" db:"direction"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Total        int64           `json:"total" db:"total"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
}

// ReplayPosition rebuilds a position from its trade history in order.
func ReplayPosition(history []StockTransaction) Position {
	var p Position
	for _, st := range history {
		if p.AccountID == 0 {
			p.AccountID, p.InstrumentID = st.AccountID, st.InstrumentID
		}
		switch st.Direction {
		case DirectionBuy:
			p = p.Bought(st.Quantity, st.Price)
		case DirectionSell:
			p = p.Sold(st.Quantity)
		}
		p.UpdatedAt = st.CreatedAt
	}
	return p
}

// HoldingValue is one position valued at the instrument's cached price.
type HoldingValue struct {
	InstrumentID  int64           `json:"instrumentId" db:"instrument_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	CurrentPrice  decimal.Decimal `json:"currentPrice" db:"current_price"`
	Quantity      int64           `json:"quantity" db:"quantity"`
	AverageCost   decimal.Decimal `json:"averageCost" db:"average_cost"`
	MarketValue   decimal.Decimal `json:"marketValue" db:"-"`
	CostBasis     decimal.Decimal `json:"costBasis" db:"-"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl" db:"-"`
}

// Portfolio aggregates an account's holdings.
type Portfolio struct {
	AccountID     int64           `json:"accountId"`
	Holdings      []HoldingValue  `json:"holdings"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
}
