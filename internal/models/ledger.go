package models

import (
	"time"
)

// TxKind classifies a balance-affecting event.
type TxKind string

const (
	KindSalary    TxKind = "salary"
	KindQuest     TxKind = "quest"
	KindTransfer  TxKind = "transfer"
	KindStockBuy  TxKind = "stock-buy"
	KindStockSell TxKind = "stock-sell"
	KindRefund    TxKind = "refund"
)

func (k TxKind) Valid() bool {
	switch k {
	case KindSalary, KindQuest, KindTransfer, KindStockBuy, KindStockSell, KindRefund:
		return true
	}
	return false
}

// Transaction is an immutable ledger row. A nil SourceID or DestinationID
// means the system side of the movement.
type Transaction struct {
	ID            int64     `json:"id" db:"id"`
	Reference     string    `json:"reference" db:"reference"`
	SourceID      *int64    `json:"sourceId,omitempty" db:"source_id"`
	DestinationID *int64    `json:"destinationId,omitempty" db:"destination_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Kind          TxKind    `json:"kind" db:"kind"`
	Description   string    `json:"description" db:"description"`
	CreatedBy     int64     `json:"createdBy" db:"created_by"`
	RefundOf      *int64    `json:"refundOf,omitempty" db:"refund_of"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// SignedAmount returns the effect of the transaction on the given account.
func (t Transaction) SignedAmount(accountID int64) int64 {
	var delta int64
	if t.DestinationID != nil && *t.DestinationID == accountID {
		delta += t.Amount
	}
	if t.SourceID != nil && *t.SourceID == accountID {
		delta -= t.Amount
	}
	return delta
}

// Reconciliation compares a stored balance with the one implied by the ledger.
type Reconciliation struct {
	AccountID      int64 `json:"accountId"`
	InitialBalance int64 `json:"initialBalance"`
	Credits        int64 `json:"credits"`
	Debits         int64 `json:"debits"`
	Expected       int64 `json:"expected"`
	Actual         int64 `json:"actual"`
}

func (r Reconciliation) Balanced() bool {
	return r.Expected == r.Actual
}

// Int64Ptr is a helper for optional foreign keys.
func Int64Ptr(v int64) *int64 {
	return &v
}
