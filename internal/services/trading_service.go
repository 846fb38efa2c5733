package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/classbank/economy/internal/audit"
	"github.com/classbank/economy/internal/market"
	"github.com/classbank/economy/internal/metrics"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TradingService buys and sells instruments at their cached price and
// values portfolios.
type TradingService struct {
	store  storage.Store
	ledger *LedgerService
	feed   market.Feed
	audit  *audit.Logger
	log    *logrus.Entry
	now    func() time.Time
}

// TradeResult is everything a trade changed.
type TradeResult struct {
	Trade    models.StockTransaction `json:"trade"`
	Entry    *models.Transaction     `json:"ledgerEntry,omitempty"`
	Position models.Position         `json:"position"`
	Balance  int64                   `json:"balance"`
}

type RefreshFailure struct {
	InstrumentID int64  `json:"instrumentId"`
	Symbol       string `json:"symbol"`
	Error        string `json:"error"`
}

// RefreshReport lists the outcome of one price refresh per instrument.
type RefreshReport struct {
	Updated []models.Instrument `json:"updated"`
	Failed  []RefreshFailure    `json:"failed"`
}

func NewTradingService(store storage.Store, ledger *LedgerService, feed market.Feed) *TradingService {
	return &TradingService{
		store:  store,
		ledger: ledger,
		feed:   feed,
		audit:  audit.NewLogger(),
		log:    logrus.WithField("service", "trading"),
		now:    time.Now,
	}
}

// AddInstrument starts tracking a symbol. The feed must supply an opening
// price.
func (s *TradingService) AddInstrument(ctx context.Context, actor models.Actor, symbol, name string) (models.Instrument, error) {
	if err := requireTeacher(actor, "add instrument"); err != nil {
		return models.Instrument{}, err
	}
	symbol = market.NormalizeSymbol(symbol)
	if symbol == "" {
		return models.Instrument{}, fmt.Errorf("%w: symbol is required", models.ErrInvalidArgument)
	}
	if name == "" {
		name = symbol
	}
	price, err := s.feed.FetchCurrentPrice(ctx, symbol)
	if err != nil {
		return models.Instrument{}, fmt.Errorf("add instrument %s: %w", symbol, asUnavailable(err))
	}
	price = price.Round(models.PriceScale)
	if !price.IsPositive() {
		return models.Instrument{}, fmt.Errorf("add instrument %s: %w: price rounds to zero", symbol, models.ErrPriceUnavailable)
	}
	inst := models.Instrument{
		Symbol:        symbol,
		Name:          name,
		CurrentPrice:  price,
		LastRefreshed: s.now().UTC(),
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertInstrument(ctx, &inst)
	})
	if err != nil {
		return models.Instrument{}, fmt.Errorf("add instrument %s: %w", symbol, err)
	}
	s.audit.LogOperation("INSTRUMENT_ADDED", actor.AccountID, fmt.Sprintf("%s at %s", symbol, price))
	return inst, nil
}

func (s *TradingService) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	return s.store.ListInstruments(ctx)
}

// RefreshPrices fetches a fresh price for every instrument. A failed fetch
// keeps the cached price and is reported; it never stops the batch.
func (s *TradingService) RefreshPrices(ctx context.Context, actor models.Actor) (RefreshReport, error) {
	if err := requireTeacher(actor, "refresh prices"); err != nil {
		return RefreshReport{}, err
	}
	instruments, err := s.store.ListInstruments(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("list instruments: %w", err)
	}
	report := RefreshReport{Updated: []models.Instrument{}, Failed: []RefreshFailure{}}
	for _, inst := range instruments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		updated, err := s.refreshOne(ctx, inst)
		if err != nil {
			s.log.WithError(err).WithField("symbol", inst.Symbol).Warn("price refresh failed")
			report.Failed = append(report.Failed, RefreshFailure{
				InstrumentID: inst.ID,
				Symbol:       inst.Symbol,
				Error:        err.Error(),
			})
			continue
		}
		report.Updated = append(report.Updated, updated)
	}
	s.log.WithFields(logrus.Fields{
		"updated": len(report.Updated),
		"failed":  len(report.Failed),
	}).Info("price refresh finished")
	return report, nil
}

func (s *TradingService) refreshOne(ctx context.Context, inst models.Instrument) (models.Instrument, error) {
	price, err := s.feed.FetchCurrentPrice(ctx, inst.Symbol)
	if err != nil {
		return models.Instrument{}, asUnavailable(err)
	}
	price = price.Round(models.PriceScale)
	if !price.IsPositive() {
		return models.Instrument{}, fmt.Errorf("%w: price rounds to zero", models.ErrPriceUnavailable)
	}
	at := s.now().UTC()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdateInstrumentPrice(ctx, inst.ID, price, at)
	})
	if err != nil {
		return models.Instrument{}, err
	}
	inst.CurrentPrice = price
	inst.LastRefreshed = at
	return inst, nil
}

// Buy charges price*quantity, rounded up to whole currency, and folds the
// shares into the position's weighted-average cost.
func (s *TradingService) Buy(ctx context.Context, actor models.Actor, accountID, instrumentID, quantity int64) (TradeResult, error) {
	if err := s.checkTrade(actor, accountID, quantity); err != nil {
		return TradeResult{}, err
	}
	var (
		res    TradeResult
		symbol string
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		pos, err := tx.LockPosition(ctx, accountID, instrumentID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			pos = models.Position{AccountID: accountID, InstrumentID: instrumentID}
		case err != nil:
			return err
		}
		inst, err := tx.ShareLockInstrument(ctx, instrumentID)
		if err != nil {
			return err
		}
		if !inst.CurrentPrice.IsPositive() {
			return fmt.Errorf("%w: %s has no price", models.ErrPriceUnavailable, inst.Symbol)
		}
		symbol = inst.Symbol

		cost, err := models.BuyCost(inst.CurrentPrice, quantity)
		if err != nil {
			return err
		}
		if !pos.CanAdd(quantity) {
			return fmt.Errorf("%w: position of %d cannot take %d more shares", models.ErrInvalidArgument, pos.Quantity, quantity)
		}
		if err := debit(ctx, tx, &acct, cost); err != nil {
			return err
		}
		pos = pos.Bought(quantity, inst.CurrentPrice)
		if err := tx.SavePosition(ctx, &pos); err != nil {
			return err
		}
		trade := models.StockTransaction{
			AccountID:    accountID,
			InstrumentID: instrumentID,
			Direction:    models.DirectionBuy,
			Quantity:     quantity,
			Price:        inst.CurrentPrice,
			Total:        cost,
		}
		if err := tx.InsertStockTransaction(ctx, &trade); err != nil {
			return err
		}
		entry, err := s.ledger.Record(ctx, tx, Entry{
			Source:      models.Int64Ptr(accountID),
			Amount:      cost,
			Kind:        models.KindStockBuy,
			Description: fmt.Sprintf("Bought %d %s @ %s", quantity, inst.Symbol, inst.CurrentPrice),
			CreatedBy:   actor.AccountID,
		})
		if err != nil {
			return err
		}
		res = TradeResult{Trade: trade, Entry: &entry, Position: pos, Balance: acct.Balance}
		return nil
	})
	if err != nil {
		s.audit.LogError("buy", actor.AccountID, accountID, err)
		return TradeResult{}, fmt.Errorf("buy %d of instrument %d: %w", quantity, instrumentID, err)
	}
	s.traded(res, symbol)
	return res, nil
}

// Sell pays price*quantity, rounded down to whole currency. The average
// cost of what remains is unchanged; an emptied position is removed.
func (s *TradingService) Sell(ctx context.Context, actor models.Actor, accountID, instrumentID, quantity int64) (TradeResult, error) {
	if err := s.checkTrade(actor, accountID, quantity); err != nil {
		return TradeResult{}, err
	}
	var (
		res    TradeResult
		symbol string
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		pos, err := tx.LockPosition(ctx, accountID, instrumentID)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: no position in instrument %d", models.ErrInsufficientShares, instrumentID)
		}
		if err != nil {
			return err
		}
		if pos.Quantity < quantity {
			return fmt.Errorf("%w: holding %d, selling %d", models.ErrInsufficientShares, pos.Quantity, quantity)
		}
		inst, err := tx.ShareLockInstrument(ctx, instrumentID)
		if err != nil {
			return err
		}
		if !inst.CurrentPrice.IsPositive() {
			return fmt.Errorf("%w: %s has no price", models.ErrPriceUnavailable, inst.Symbol)
		}
		symbol = inst.Symbol

		proceeds, err := models.SellProceeds(inst.CurrentPrice, quantity)
		if err != nil {
			return err
		}
		// Proceeds below one unit round to nothing: the shares go, no
		// currency moves.
		if proceeds > 0 {
			if err := credit(ctx, tx, &acct, proceeds); err != nil {
				return err
			}
		} else if !acct.Active {
			return fmt.Errorf("%w: account %d is inactive", models.ErrNotFound, acct.ID)
		}
		pos = pos.Sold(quantity)
		if pos.Quantity == 0 {
			err = tx.DeletePosition(ctx, pos.ID)
		} else {
			err = tx.SavePosition(ctx, &pos)
		}
		if err != nil {
			return err
		}
		trade := models.StockTransaction{
			AccountID:    accountID,
			InstrumentID: instrumentID,
			Direction:    models.DirectionSell,
			Quantity:     quantity,
			Price:        inst.CurrentPrice,
			Total:        proceeds,
		}
		if err := tx.InsertStockTransaction(ctx, &trade); err != nil {
			return err
		}
		res = TradeResult{Trade: trade, Position: pos, Balance: acct.Balance}
		if proceeds == 0 {
			return nil
		}
		entry, err := s.ledger.Record(ctx, tx, Entry{
			Destination: models.Int64Ptr(accountID),
			Amount:      proceeds,
			Kind:        models.KindStockSell,
			Description: fmt.Sprintf("Sold %d %s @ %s", quantity, inst.Symbol, inst.CurrentPrice),
			CreatedBy:   actor.AccountID,
		})
		if err != nil {
			return err
		}
		res.Entry = &entry
		return nil
	})
	if err != nil {
		s.audit.LogError("sell", actor.AccountID, accountID, err)
		return TradeResult{}, fmt.Errorf("sell %d of instrument %d: %w", quantity, instrumentID, err)
	}
	s.traded(res, symbol)
	return res, nil
}

func (s *TradingService) checkTrade(actor models.Actor, accountID, quantity int64) error {
	if err := requireActs(actor, accountID); err != nil {
		return err
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", models.ErrInvalidArgument, quantity)
	}
	return nil
}

func (s *TradingService) traded(res TradeResult, symbol string) {
	if res.Entry != nil {
		committed(*res.Entry)
	}
	metrics.RecordTrade(res.Trade.Direction)
	s.audit.LogTrade(string(res.Trade.Direction), res.Trade.ID, res.Trade.AccountID, symbol,
		res.Trade.Quantity, res.Trade.Total, res.Trade.Price.String())
}

// PortfolioValue values each holding at the cached price:
//
//	market value   = price * quantity
//	unrealized P&L = (price - average cost) * quantity
func (s *TradingService) PortfolioValue(ctx context.Context, actor models.Actor, accountID int64) (models.Portfolio, error) {
	if err := requireActs(actor, accountID); err != nil {
		return models.Portfolio{}, err
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return models.Portfolio{}, err
	}
	holdings, err := s.store.ListHoldings(ctx, accountID)
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("list holdings: %w", err)
	}
	p := models.Portfolio{
		AccountID:     accountID,
		Holdings:      make([]models.HoldingValue, 0, len(holdings)),
		MarketValue:   decimal.Zero,
		CostBasis:     decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}
	for _, h := range holdings {
		qty := decimal.NewFromInt(h.Quantity)
		h.MarketValue = h.CurrentPrice.Mul(qty)
		h.CostBasis = h.AverageCost.Mul(qty)
		h.UnrealizedPnL = h.CurrentPrice.Sub(h.AverageCost).Mul(qty)
		p.MarketValue = p.MarketValue.Add(h.MarketValue)
		p.CostBasis = p.CostBasis.Add(h.CostBasis)
		p.UnrealizedPnL = p.UnrealizedPnL.Add(h.UnrealizedPnL)
		p.Holdings = append(p.Holdings, h)
	}
	return p, nil
}

// StockHistory returns an account's trades in one instrument, oldest first.
func (s *TradingService) StockHistory(ctx context.Context, actor models.Actor, accountID, instrumentID int64) ([]models.StockTransaction, error) {
	if err := requireActs(actor, accountID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetInstrument(ctx, instrumentID); err != nil {
		return nil, err
	}
	return s.store.ListStockTransactions(ctx, accountID, instrumentID)
}

func asUnavailable(err error) error {
	if errors.Is(err, models.ErrPriceUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrPriceUnavailable, err)
}
