package handlers

import (
	"net/http"
)

type transferRequest struct {
	From        int64  `json:"from" validate:"required,gt=0"`
	To          int64  `json:"to" validate:"required,gt=0,nefield=From"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=500"`
}

func (a *API) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	entry, err := a.transfers.Transfer(r.Context(), caller, req.From, req.To, req.Amount, req.Description)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type refundRequest struct {
	Description string `json:"description" validate:"max=500"`
}

func (a *API) Refund(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	transactionID, ok := idParam(w, r, "transactionId")
	if !ok {
		return
	}
	var req refundRequest
	if r.ContentLength != 0 && !a.decodeBody(w, r, &req) {
		return
	}
	entry, err := a.transfers.Refund(r.Context(), caller, transactionID, req.Description)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
