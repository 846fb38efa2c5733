package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/classbank/economy/internal/audit"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage"
	"github.com/sirupsen/logrus"
)

type QuestService struct {
	store     storage.Store
	ledger    *LedgerService
	audit     *audit.Logger
	validator *ValidationHelper
	log       *logrus.Entry
	now       func() time.Time
}

type NewQuest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Reward      int64  `json:"reward" validate:"gt=0"`
	IsDaily     bool   `json:"isDaily"`
}

func NewQuestService(store storage.Store, ledger *LedgerService) *QuestService {
	return &QuestService{
		store:     store,
		ledger:    ledger,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		log:       logrus.WithField("service", "quests"),
		now:       time.Now,
	}
}

func (s *QuestService) CreateQuest(ctx context.Context, actor models.Actor, req NewQuest) (models.Quest, error) {
	if err := requireTeacher(actor, "create quest"); err != nil {
		return models.Quest{}, err
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validator.Validate(&req); err != nil {
		return models.Quest{}, err
	}
	q := models.Quest{
		Title:       req.Title,
		Description: req.Description,
		Reward:      req.Reward,
		CreatedBy:   actor.AccountID,
		IsDaily:     req.IsDaily,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertQuest(ctx, &q)
	})
	if err != nil {
		return models.Quest{}, fmt.Errorf("create quest: %w", err)
	}
	s.audit.LogOperation("QUEST_CREATED", actor.AccountID, fmt.Sprintf("quest %d %q reward %d", q.ID, q.Title, q.Reward))
	return q, nil
}

func (s *QuestService) ListQuests(ctx context.Context) ([]models.Quest, error) {
	return s.store.ListQuests(ctx)
}

// SubmitCompletion files a pending completion for the actor's own account.
// A quest may be submitted once, or once per UTC day when it is daily.
func (s *QuestService) SubmitCompletion(ctx context.Context, actor models.Actor, questID int64) (models.QuestCompletion, error) {
	now := s.now().UTC()
	c := models.QuestCompletion{
		QuestID:     questID,
		AccountID:   actor.AccountID,
		SubmittedAt: now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		q, err := tx.GetQuest(ctx, questID)
		if err != nil {
			return err
		}
		// Serializes submissions from the same account.
		acct, err := tx.LockAccount(ctx, actor.AccountID)
		if err != nil {
			return err
		}
		if !acct.Active {
			return fmt.Errorf("%w: account %d is inactive", models.ErrNotFound, acct.ID)
		}
		n, err := tx.CountCompletions(ctx, questID, actor.AccountID, submissionWindow(q, now))
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: quest %d", models.ErrAlreadySubmitted, questID)
		}
		return tx.InsertCompletion(ctx, &c)
	})
	if err != nil {
		return models.QuestCompletion{}, fmt.Errorf("submit quest %d: %w", questID, err)
	}
	s.log.WithFields(logrus.Fields{"quest_id": questID, "account_id": actor.AccountID}).Info("quest completion submitted")
	return c, nil
}

// VerifyCompletion marks a pending completion verified and pays the reward.
func (s *QuestService) VerifyCompletion(ctx context.Context, actor models.Actor, completionID int64) (models.Transaction, error) {
	if err := requireTeacher(actor, "verify completion"); err != nil {
		return models.Transaction{}, err
	}
	var entry models.Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.LockCompletion(ctx, completionID)
		if err != nil {
			return err
		}
		if !c.Pending() {
			return fmt.Errorf("%w: completion %d", models.ErrAlreadyVerified, completionID)
		}
		q, err := tx.GetQuest(ctx, c.QuestID)
		if err != nil {
			return err
		}
		acct, err := tx.LockAccount(ctx, c.AccountID)
		if err != nil {
			return err
		}
		if err := tx.MarkCompletionVerified(ctx, c.ID, actor.AccountID, s.now().UTC()); err != nil {
			return err
		}
		if err := credit(ctx, tx, &acct, q.Reward); err != nil {
			return err
		}
		entry, err = s.ledger.Record(ctx, tx, Entry{
			Destination: models.Int64Ptr(acct.ID),
			Amount:      q.Reward,
			Kind:        models.KindQuest,
			Description: fmt.Sprintf("Quest reward: %s", q.Title),
			CreatedBy:   actor.AccountID,
		})
		return err
	})
	if err != nil {
		s.audit.LogError("verify completion", actor.AccountID, 0, err)
		return models.Transaction{}, fmt.Errorf("verify completion %d: %w", completionID, err)
	}
	committed(entry)
	s.audit.LogCredit("QUEST_REWARD", entry.ID, actor.AccountID, *entry.DestinationID, entry.Amount)
	return entry, nil
}

func (s *QuestService) PendingCompletions(ctx context.Context, actor models.Actor) ([]models.PendingCompletion, error) {
	if err := requireTeacher(actor, "list pending completions"); err != nil {
		return nil, err
	}
	return s.store.ListPendingCompletions(ctx)
}

// AvailableQuests lists the quests the actor could submit right now.
func (s *QuestService) AvailableQuests(ctx context.Context, actor models.Actor) ([]models.Quest, error) {
	quests, err := s.store.ListQuests(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	open := make([]models.Quest, 0, len(quests))
	for _, q := range quests {
		n, err := s.store.CountCompletions(ctx, q.ID, actor.AccountID, submissionWindow(q, now))
		if err != nil {
			return nil, err
		}
		if n == 0 {
			open = append(open, q)
		}
	}
	return open, nil
}

// submissionWindow is the start of the period in which a quest counts as
// already submitted: the current UTC day for daily quests, all time otherwise.
func submissionWindow(q models.Quest, now time.Time) time.Time {
	if !q.IsDaily {
		return time.Time{}
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
