package handlers

import (
	"net/http"

	"github.com/classbank/economy/internal/services"
)

func (a *API) ListQuests(w http.ResponseWriter, r *http.Request) {
	quests, err := a.quests.ListQuests(r.Context())
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quests)
}

func (a *API) AvailableQuests(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	quests, err := a.quests.AvailableQuests(r.Context(), caller)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quests)
}

func (a *API) CreateQuest(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req services.NewQuest
	if !a.decodeBody(w, r, &req) {
		return
	}
	q, err := a.quests.CreateQuest(r.Context(), caller, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (a *API) SubmitCompletion(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	questID, ok := idParam(w, r, "questId")
	if !ok {
		return
	}
	c, err := a.quests.SubmitCompletion(r.Context(), caller, questID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) PendingCompletions(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	rows, err := a.quests.PendingCompletions(r.Context(), caller)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) VerifyCompletion(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	completionID, ok := idParam(w, r, "completionId")
	if !ok {
		return
	}
	entry, err := a.quests.VerifyCompletion(r.Context(), caller, completionID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
