package handlers

import (
	"net/http"

	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/services"
)

// CreateAccount registers a user. Only teachers may enrol accounts.
func (a *API) CreateAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req services.NewAccount
	if !a.decodeBody(w, r, &req) {
		return
	}
	acct, err := a.accounts.CreateAccount(r.Context(), caller, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	acct, err := a.accounts.GetAccount(r.Context(), caller.AccountID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) GetAccount(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := a.ownAccount(w, r)
	if !ok {
		return
	}
	acct, err := a.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) GetBalance(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := a.ownAccount(w, r)
	if !ok {
		return
	}
	balance, err := a.accounts.GetBalance(r.Context(), accountID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"accountId": accountID, "balance": balance})
}

func (a *API) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := idParam(w, r, "accountId")
	if !ok {
		return
	}
	if err := a.accounts.Deactivate(r.Context(), caller, accountID); err != nil {
		sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Rankings(w http.ResponseWriter, r *http.Request) {
	rows, err := a.accounts.Rankings(r.Context(), limitParam(r))
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) History(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := idParam(w, r, "accountId")
	if !ok {
		return
	}
	rows, err := a.ledger.History(r.Context(), caller, accountID, limitParam(r))
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) Reconcile(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := a.ownAccount(w, r)
	if !ok {
		return
	}
	rec, err := a.ledger.Reconcile(r.Context(), accountID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reconciliation": rec,
		"balanced":       rec.Balanced(),
	})
}

// ownAccount resolves {accountId} and checks the caller may look at it.
func (a *API) ownAccount(w http.ResponseWriter, r *http.Request) (models.Actor, int64, bool) {
	caller, ok := actor(w, r)
	if !ok {
		return models.Actor{}, 0, false
	}
	accountID, ok := idParam(w, r, "accountId")
	if !ok {
		return models.Actor{}, 0, false
	}
	if !caller.Acts(accountID) {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return models.Actor{}, 0, false
	}
	return caller, accountID, true
}
