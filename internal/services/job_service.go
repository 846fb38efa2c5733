package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/classbank/economy/internal/audit"
	"github.com/classbank/economy/internal/metrics"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage"
	"github.com/sirupsen/logrus"
)

type JobService struct {
	store     storage.Store
	ledger    *LedgerService
	audit     *audit.Logger
	validator *ValidationHelper
	log       *logrus.Entry
}

type NewJob struct {
	Name        string `json:"name" validate:"required,max=128"`
	Salary      int64  `json:"salary" validate:"gt=0"`
	Description string `json:"description" validate:"max=1024"`
}

// SalaryFailure is an account the salary batch could not pay.
type SalaryFailure struct {
	AccountID int64  `json:"accountId"`
	JobID     int64  `json:"jobId"`
	Salary    int64  `json:"salary"`
	Error     string `json:"error"`
}

// SalaryReport summarizes one run of the salary batch.
type SalaryReport struct {
	Paid   []models.Transaction `json:"paid"`
	Failed []SalaryFailure      `json:"failed"`
	Total  int64                `json:"total"`
}

func NewJobService(store storage.Store, ledger *LedgerService) *JobService {
	return &JobService{
		store:     store,
		ledger:    ledger,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		log:       logrus.WithField("service", "jobs"),
	}
}

func (s *JobService) CreateJob(ctx context.Context, actor models.Actor, req NewJob) (models.Job, error) {
	if err := requireTeacher(actor, "create job"); err != nil {
		return models.Job{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Validate(&req); err != nil {
		return models.Job{}, err
	}
	job := models.Job{
		Name:        req.Name,
		Salary:      req.Salary,
		Description: req.Description,
		CreatedBy:   actor.AccountID,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertJob(ctx, &job)
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}
	s.audit.LogOperation("JOB_CREATED", actor.AccountID, fmt.Sprintf("job %d %q salary %d", job.ID, job.Name, job.Salary))
	return job, nil
}

// AssignJob points the account at a job, replacing any previous one.
func (s *JobService) AssignJob(ctx context.Context, actor models.Actor, accountID, jobID int64) error {
	if err := requireTeacher(actor, "assign job"); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetJob(ctx, jobID); err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, accountID); err != nil {
			return err
		}
		return tx.SetAccountJob(ctx, accountID, &jobID)
	})
	if err != nil {
		return fmt.Errorf("assign job %d to account %d: %w", jobID, accountID, err)
	}
	s.audit.LogOperation("JOB_ASSIGNED", actor.AccountID, fmt.Sprintf("account %d job %d", accountID, jobID))
	return nil
}

func (s *JobService) UnassignJob(ctx context.Context, actor models.Actor, accountID int64) error {
	if err := requireTeacher(actor, "unassign job"); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.LockAccount(ctx, accountID); err != nil {
			return err
		}
		return tx.SetAccountJob(ctx, accountID, nil)
	})
	if err != nil {
		return fmt.Errorf("unassign job from account %d: %w", accountID, err)
	}
	s.audit.LogOperation("JOB_UNASSIGNED", actor.AccountID, fmt.Sprintf("account %d", accountID))
	return nil
}

func (s *JobService) ListJobs(ctx context.Context) ([]models.Job, error) {
	return s.store.ListJobs(ctx)
}

// ProcessMonthlySalaries pays every active account holding a job. Each
// payment commits on its own, so one failure does not stop the batch.
//
// Running it twice in a month pays twice; scheduling is the caller's job.
func (s *JobService) ProcessMonthlySalaries(ctx context.Context, actor models.Actor) (SalaryReport, error) {
	if err := requireTeacher(actor, "process salaries"); err != nil {
		return SalaryReport{}, err
	}
	due, err := s.store.ListSalariesDue(ctx)
	if err != nil {
		return SalaryReport{}, fmt.Errorf("list salaries due: %w", err)
	}

	report := SalaryReport{Paid: []models.Transaction{}, Failed: []SalaryFailure{}}
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entry, err := s.paySalary(ctx, actor, d)
		metrics.RecordSalaryPayment(err == nil)
		if err != nil {
			s.log.WithError(err).WithField("account_id", d.AccountID).Warn("salary payment failed")
			s.audit.LogError("salary", actor.AccountID, d.AccountID, err)
			report.Failed = append(report.Failed, SalaryFailure{
				AccountID: d.AccountID,
				JobID:     d.JobID,
				Salary:    d.Salary,
				Error:     err.Error(),
			})
			continue
		}
		committed(entry)
		s.audit.LogCredit("SALARY", entry.ID, actor.AccountID, d.AccountID, d.Salary)
		report.Paid = append(report.Paid, entry)
		report.Total += d.Salary
	}

	s.log.WithFields(logrus.Fields{
		"paid":   len(report.Paid),
		"failed": len(report.Failed),
		"total":  report.Total,
	}).Info("salary batch finished")
	return report, nil
}

func (s *JobService) paySalary(ctx context.Context, actor models.Actor, d models.SalaryDue) (models.Transaction, error) {
	var entry models.Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.LockAccount(ctx, d.AccountID)
		if err != nil {
			return err
		}
		// The assignment may have changed since the batch listed it.
		if acct.JobID == nil || *acct.JobID != d.JobID {
			return fmt.Errorf("%w: account %d no longer holds job %d", models.ErrNotFound, d.AccountID, d.JobID)
		}
		if err := credit(ctx, tx, &acct, d.Salary); err != nil {
			return err
		}
		entry, err = s.ledger.Record(ctx, tx, Entry{
			Destination: models.Int64Ptr(acct.ID),
			Amount:      d.Salary,
			Kind:        models.KindSalary,
			Description: fmt.Sprintf("Monthly salary for %s", d.JobName),
			CreatedBy:   actor.AccountID,
		})
		return err
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("pay account %d: %w", d.AccountID, err)
	}
	return entry, nil
}
