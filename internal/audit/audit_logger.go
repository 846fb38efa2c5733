package audit

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	AccountID     int64     `json:"account_id,omitempty"`
	ActorID       int64     `json:"actor_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

// Logger writes one JSON line per balance-affecting event.
type Logger struct {
	out *logrus.Entry
}

func NewLogger() *Logger {
	return &Logger{out: logrus.WithField("component", "audit")}
}

// NewLoggerWith writes through the given entry instead of the standard logger.
func NewLoggerWith(entry *logrus.Entry) *Logger {
	return &Logger{out: entry}
}

func (a *Logger) LogTransfer(transactionID, actorID, fromAccount, toAccount, amount int64) {
	a.log(Event{
		EventType:     "TRANSFER",
		TransactionID: transactionID,
		ActorID:       actorID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details: map[string]int64{
			"from_account": fromAccount,
			"to_account":   toAccount,
		},
	})
}

func (a *Logger) LogCredit(eventType string, transactionID, actorID, accountID, amount int64) {
	a.log(Event{
		EventType:     eventType,
		TransactionID: transactionID,
		ActorID:       actorID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        "SUCCESS",
	})
}

func (a *Logger) LogTrade(direction string, transactionID, accountID int64, symbol string, quantity, total int64, price string) {
	a.log(Event{
		EventType:     "TRADE",
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        total,
		Status:        "SUCCESS",
		Details: map[string]any{
			"direction": direction,
			"symbol":    symbol,
			"quantity":  quantity,
			"price":     price,
		},
	})
}

func (a *Logger) LogError(operation string, actorID, accountID int64, err error) {
	a.log(Event{
		EventType: "ERROR",
		ActorID:   actorID,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"operation": operation, "error": err.Error()},
	})
}

func (a *Logger) LogOperation(operation string, actorID int64, details string) {
	a.log(Event{
		EventType: operation,
		ActorID:   actorID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	event.Timestamp = time.Now().UTC()
	data, _ := json.Marshal(event)
	a.out.Infof("AUDIT: %s", string(data))
}
