// AngelaMos | 2026
// repository.go

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
)

// DB is what the ledger needs from the pool: plain queries plus
// transactions. *sqlx.DB satisfies it.
type DB interface {
	core.DBTX
	core.TxBeginner
}

type ApplyParams struct {
	UserID         string
	Amount         int64
	Description    string
	IdempotencyKey string
	TrialBalance   int64
}

type Repository interface {
	GetOrCreateAccount(
		ctx context.Context,
		userID string,
		trialBalance int64,
	) (*Account, error)
	Apply(ctx context.Context, params ApplyParams) (*Transaction, bool, error)
	ListTransactions(
		ctx context.Context,
		userID string,
		limit, offset int,
	) ([]Transaction, int, error)
	SumDebitsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	Totals(ctx context.Context) (*Totals, error)
}

type repository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &repository{db: db}
}

const transactionColumns = `id, user_id, amount, description, balance_after,
		       account_version, idempotency_key, created_at`

// initialAccountVersion is the version of a freshly provisioned account.
const initialAccountVersion int64 = 1

func (r *repository) GetOrCreateAccount(
	ctx context.Context,
	userID string,
	trialBalance int64,
) (*Account, error) {
	var account Account

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := ensureAccount(ctx, tx, userID, trialBalance); err != nil {
			return err
		}

		query := `
			SELECT user_id, balance, version, created_at, updated_at
			FROM credit_accounts
			WHERE user_id = $1`

		if err := tx.GetContext(ctx, &account, query, userID); err != nil {
			return fmt.Errorf("get account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &account, nil
}

// ensureAccount inserts the account with its trial balance when missing and
// logs the grant as the first transaction.
func ensureAccount(
	ctx context.Context,
	tx *sqlx.Tx,
	userID string,
	trialBalance int64,
) error {
	insert := `
		INSERT INTO credit_accounts (user_id, balance, version)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`

	result, err := tx.ExecContext(ctx, insert, userID, trialBalance, initialAccountVersion)
	if err != nil {
		return fmt.Errorf("provision account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("provision account: %w", err)
	}

	if rows == 0 || trialBalance == 0 {
		return nil
	}

	grant := `
		INSERT INTO credit_transactions (
			id, user_id, amount, description, balance_after, account_version
		) VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := tx.ExecContext(ctx, grant,
		core.NewULID(),
		userID,
		trialBalance,
		TrialGrantDescription,
		trialBalance,
		initialAccountVersion,
	); err != nil {
		return fmt.Errorf("record trial grant: %w", err)
	}

	return nil
}

// Apply adds a signed amount to the balance under a row lock, bumps the
// account version and appends the transaction. A repeated idempotency key
// returns the original transaction with replayed set and changes nothing; a
// repeated key with a different signed amount is ErrIdempotencyConflict.
func (r *repository) Apply(
	ctx context.Context,
	params ApplyParams,
) (*Transaction, bool, error) {
	var (
		txn      *Transaction
		replayed bool
	)

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := ensureAccount(ctx, tx, params.UserID, params.TrialBalance); err != nil {
			return err
		}

		var balance int64
		lock := `SELECT balance FROM credit_accounts WHERE user_id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &balance, lock, params.UserID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		if params.IdempotencyKey != "" {
			existing, err := findByKey(ctx, tx, params.UserID, params.IdempotencyKey)
			if err == nil {
				if existing.Amount != params.Amount {
					return fmt.Errorf("apply: %w", ErrIdempotencyConflict)
				}
				txn = existing
				replayed = true
				return nil
			}
			if !errors.Is(err, core.ErrNotFound) {
				return err
			}
		}

		if params.Amount > 0 && balance > math.MaxInt64-params.Amount {
			return fmt.Errorf("apply: balance would overflow: %w", ErrInvalidAmount)
		}

		newBalance := balance + params.Amount
		if newBalance < 0 {
			return fmt.Errorf("apply: %w", ErrInsufficientBalance)
		}

		update := `
			UPDATE credit_accounts
			SET balance = $2, version = version + 1, updated_at = NOW()
			WHERE user_id = $1
			RETURNING version`

		var version int64
		if err := tx.QueryRowxContext(ctx, update, params.UserID, newBalance).
			Scan(&version); err != nil {
			if core.IsCheckViolation(err) {
				return fmt.Errorf("apply: %w", ErrInsufficientBalance)
			}
			return fmt.Errorf("update balance: %w", err)
		}

		txn = &Transaction{
			ID:             core.NewULID(),
			UserID:         params.UserID,
			Amount:         params.Amount,
			Description:    params.Description,
			BalanceAfter:   newBalance,
			AccountVersion: version,
		}
		if params.IdempotencyKey != "" {
			key := params.IdempotencyKey
			txn.IdempotencyKey = &key
		}

		insert := `
			INSERT INTO credit_transactions (
				id, user_id, amount, description, balance_after,
				account_version, idempotency_key
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at`

		if err := tx.QueryRowxContext(ctx, insert,
			txn.ID,
			txn.UserID,
			txn.Amount,
			txn.Description,
			txn.BalanceAfter,
			txn.AccountVersion,
			txn.IdempotencyKey,
		).Scan(&txn.CreatedAt); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return txn, replayed, nil
}

func findByKey(
	ctx context.Context,
	tx *sqlx.Tx,
	userID, key string,
) (*Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE user_id = $1 AND idempotency_key = $2`

	var txn Transaction
	err := tx.GetContext(ctx, &txn, query, userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find transaction by key: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction by key: %w", err)
	}

	return &txn, nil
}

func (r *repository) ListTransactions(
	ctx context.Context,
	userID string,
	limit, offset int,
) ([]Transaction, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1`
	if err := r.db.GetContext(ctx, &total, countQuery, userID); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	var txns []Transaction
	if err := r.db.SelectContext(ctx, &txns, query, userID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}

	return txns, total, nil
}

func (r *repository) SumDebitsSince(
	ctx context.Context,
	userID string,
	since time.Time,
) (int64, error) {
	query := `
		SELECT COALESCE(SUM(-amount), 0)
		FROM credit_transactions
		WHERE user_id = $1 AND amount < 0 AND created_at >= $2`

	var total int64
	if err := r.db.GetContext(ctx, &total, query, userID, since); err != nil {
		return 0, fmt.Errorf("sum debits: %w", err)
	}

	return total, nil
}

func (r *repository) Totals(ctx context.Context) (*Totals, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM credit_accounts) AS accounts,
			(SELECT COALESCE(SUM(balance), 0) FROM credit_accounts) AS outstanding,
			(SELECT COALESCE(SUM(-amount), 0) FROM credit_transactions WHERE amount < 0) AS total_debited,
			(SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE amount > 0) AS total_credited,
			(SELECT COUNT(*) FROM credit_transactions) AS transaction_rows`

	var totals Totals
	if err := r.db.GetContext(ctx, &totals, query); err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}

	return &totals, nil
}
