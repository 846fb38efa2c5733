package handlers

import (
	"net/http"

	"github.com/classbank/economy/internal/services"
)

func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.jobs.ListJobs(r.Context())
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) CreateJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req services.NewJob
	if !a.decodeBody(w, r, &req) {
		return
	}
	job, err := a.jobs.CreateJob(r.Context(), caller, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type assignJobRequest struct {
	JobID int64 `json:"jobId" validate:"required,gt=0"`
}

func (a *API) AssignJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := idParam(w, r, "accountId")
	if !ok {
		return
	}
	var req assignJobRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	if err := a.jobs.AssignJob(r.Context(), caller, accountID, req.JobID); err != nil {
		sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) UnassignJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := idParam(w, r, "accountId")
	if !ok {
		return
	}
	if err := a.jobs.UnassignJob(r.Context(), caller, accountID); err != nil {
		sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProcessSalaries runs the salary batch. Per-account failures are part of
// the report, so a partial run still answers 200.
func (a *API) ProcessSalaries(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	report, err := a.jobs.ProcessMonthlySalaries(r.Context(), caller)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
