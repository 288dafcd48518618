package models

import (
	"time"
)

// Account holds the persisted credit balance for one user. The balance is
// the only mutable ledger value and must never go negative.
type Account struct {
	ID        int64     `json:"id" db:"id"`
	Balance   int64     `json:"balance" db:"balance"` // in credits
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
