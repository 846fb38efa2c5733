package handlers

import (
	"net/http"

	"github.com/classbank/economy/internal/models"
)

func (a *API) ListInstruments(w http.ResponseWriter, r *http.Request) {
	rows, err := a.trading.ListInstruments(r.Context())
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type addInstrumentRequest struct {
	Symbol string `json:"symbol" validate:"required,max=16"`
	Name   string `json:"name" validate:"max=128"`
}

func (a *API) AddInstrument(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req addInstrumentRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	inst, err := a.trading.AddInstrument(r.Context(), caller, req.Symbol, req.Name)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (a *API) RefreshPrices(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	report, err := a.trading.RefreshPrices(r.Context(), caller)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type tradeRequest struct {
	InstrumentID int64            `json:"instrumentId" validate:"required,gt=0"`
	Direction    models.Direction `json:"direction" validate:"required,oneof=buy sell"`
	Quantity     int64            `json:"quantity" validate:"required,gt=0"`
}

func (a *API) Trade(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := idParam(w, r, "accountId")
	if !ok {
		return
	}
	var req tradeRequest
	if !a.decodeBody(w, r, &req) {
		return
	}

	trade := a.trading.Buy
	if req.Direction == models.DirectionSell {
		trade = a.trading.Sell
	}
	res, err := trade(r.Context(), caller, accountID, req.InstrumentID, req.Quantity)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) Portfolio(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := idParam(w, r, "accountId")
	if !ok {
		return
	}
	p, err := a.trading.PortfolioValue(r.Context(), caller, accountID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) StockHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := idParam(w, r, "accountId")
	if !ok {
		return
	}
	instrumentID, ok := idParam(w, r, "instrumentId")
	if !ok {
		return
	}
	rows, err := a.trading.StockHistory(r.Context(), caller, accountID, instrumentID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
