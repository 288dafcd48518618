package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindTopUp    TransactionKind = "topup"
	KindPurchase TransactionKind = "purchase"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Transaction is one immutable audit record of a balance-changing event.
// The only permitted mutation after append is the pending -> completed/failed
// transition on top-ups, applied when the off-platform payment is verified.
type Transaction struct {
	ID          string              `json:"id" db:"id"`
	AccountID   int64               `json:"account_id" db:"account_id"`
	Kind        TransactionKind     `json:"kind" db:"kind"`
	Amount      int64               `json:"amount" db:"amount"` // in credits
	RealAmount  decimal.NullDecimal `json:"real_amount,omitempty" db:"real_amount"`
	Method      string              `json:"method,omitempty" db:"method"`
	Reference   string              `json:"reference,omitempty" db:"reference"`
	WorksheetID sql.NullInt64       `json:"-" db:"worksheet_id"`
	Status      TransactionStatus   `json:"status" db:"status"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
}

// Ownership is an entitlement granting an account access to a worksheet.
// Exactly one row exists per completed purchase and rows are never deleted.
type Ownership struct {
	AccountID     int64     `json:"account_id" db:"account_id"`
	WorksheetID   int64     `json:"worksheet_id" db:"worksheet_id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
