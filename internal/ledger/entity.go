// AngelaMos | 2026
// entity.go

package ledger

import (
	"errors"
	"time"
)

var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different amount")
)

const TrialGrantDescription = "trial grant"

// Account is the per-user balance row. Balance is never negative. Version
// increases by one with every balance change, so a reader can order rows
// that arrive out of commit order.
type Account struct {
	UserID    string    `db:"user_id"    json:"user_id"`
	Balance   int64     `db:"balance"    json:"balance"`
	Version   int64     `db:"version"    json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an immutable ledger entry. Amount is negative for debits.
type Transaction struct {
	ID             string    `db:"id"              json:"id"`
	UserID         string    `db:"user_id"         json:"user_id"`
	Amount         int64     `db:"amount"          json:"amount"`
	Description    string    `db:"description"     json:"description"`
	BalanceAfter   int64     `db:"balance_after"   json:"balance_after"`
	AccountVersion int64     `db:"account_version" json:"account_version"`
	IdempotencyKey *string   `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}

func (t *Transaction) IsDebit() bool {
	return t.Amount < 0
}

// Receipt is the authoritative result of a debit or credit. Version is the
// account version NewBalance belongs to.
type Receipt struct {
	NewBalance    int64  `json:"new_balance"`
	Version       int64  `json:"version"`
	TransactionID string `json:"transaction_id"`
	Replayed      bool   `json:"replayed,omitempty"`
}

type Totals struct {
	Accounts        int64 `db:"accounts"         json:"accounts"`
	OutstandingBal  int64 `db:"outstanding"      json:"outstanding_balance"`
	TotalDebited    int64 `db:"total_debited"    json:"total_debited"`
	TotalCredited   int64 `db:"total_credited"   json:"total_credited"`
	TransactionRows int64 `db:"transaction_rows" json:"transactions"`
}
