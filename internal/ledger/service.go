// AngelaMos | 2026
// service.go

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/credit-ledger/internal/config"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
)

const (
	opDebit  = "debit_credits"
	opCredit = "credit_credits"

	maxUsageDays = 90
)

type Service struct {
	repo      Repository
	usage     UsageStore
	publisher realtime.Publisher
	cfg       config.CreditsConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	usage UsageStore,
	publisher realtime.Publisher,
	cfg config.CreditsConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UsageWindowDays <= 0 {
		cfg.UsageWindowDays = 7
	}
	return &Service{
		repo:      repo,
		usage:     usage,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Account returns the caller's account, provisioning the trial balance on
// first access.
func (s *Service) Account(ctx context.Context, userID string) (*Account, error) {
	return s.repo.GetOrCreateAccount(ctx, userID, s.cfg.TrialBalance)
}

// Provision creates the account at sign-up. It is a no-op for existing
// accounts.
func (s *Service) Provision(ctx context.Context, userID string) error {
	account, err := s.repo.GetOrCreateAccount(ctx, userID, s.cfg.TrialBalance)
	if err != nil {
		return fmt.Errorf("provision account: %w", err)
	}

	s.publishAccount(ctx, realtime.EventInsert, account)
	return nil
}

func (s *Service) Debit(
	ctx context.Context,
	userID string,
	amount int64,
	description, idempotencyKey string,
) (*Receipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit: %w", ErrInvalidAmount)
	}
	return s.apply(ctx, opDebit, userID, -amount, description, idempotencyKey)
}

func (s *Service) Credit(
	ctx context.Context,
	userID string,
	amount int64,
	description, idempotencyKey string,
) (*Receipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit: %w", ErrInvalidAmount)
	}
	return s.apply(ctx, opCredit, userID, amount, description, idempotencyKey)
}

func (s *Service) apply(
	ctx context.Context,
	op, userID string,
	signed int64,
	description, idempotencyKey string,
) (receipt *Receipt, err error) {
	ctx, span := core.StartSpan(ctx, "ledger."+op,
		attribute.String("ledger.user_id", userID),
		attribute.Int64("ledger.amount", signed),
	)
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			outcome = "insufficient_balance"
			core.EndSpan(span, nil)
		case errors.Is(err, ErrIdempotencyConflict):
			outcome = "conflict"
			core.EndSpan(span, nil)
		case err != nil:
			outcome = "error"
			core.EndSpan(span, err)
		default:
			if receipt.Replayed {
				outcome = "replayed"
			}
			core.EndSpan(span, nil)
		}
		core.LedgerOperations.WithLabelValues(op, outcome).Inc()
	}()

	txn, replayed, err := s.repo.Apply(ctx, ApplyParams{
		UserID:         userID,
		Amount:         signed,
		Description:    description,
		IdempotencyKey: idempotencyKey,
		TrialBalance:   s.cfg.TrialBalance,
	})
	if err != nil {
		return nil, err
	}

	receipt = &Receipt{
		NewBalance:    txn.BalanceAfter,
		Version:       txn.AccountVersion,
		TransactionID: txn.ID,
		Replayed:      replayed,
	}

	if replayed {
		s.logger.Info("ledger request replayed",
			"operation", op,
			"user_id", userID,
			"transaction_id", txn.ID,
		)
		return receipt, nil
	}

	direction := "credit"
	moved := signed
	if signed < 0 {
		direction = "debit"
		moved = -signed
	}
	core.LedgerCreditsMoved.WithLabelValues(direction).Add(float64(moved))

	s.publishAccount(ctx, realtime.EventUpdate, &Account{
		UserID:  userID,
		Balance: txn.BalanceAfter,
		Version: txn.AccountVersion,
	})
	return receipt, nil
}

func (s *Service) ListTransactions(
	ctx context.Context,
	userID string,
	limit, offset int,
) (*TransactionPage, error) {
	limit, offset = normalizePage(limit, offset)

	txns, total, err := s.repo.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []Transaction{}
	}

	return &TransactionPage{
		Transactions: txns,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

func (s *Service) RecordDailyUsage(
	ctx context.Context,
	userID string,
	amount int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("record usage: %w", ErrInvalidAmount)
	}
	return s.usage.Record(ctx, userID, s.now(), amount)
}

// DailyUsage sums debits over the trailing daysBack days. The Redis rollup
// is preferred; the transaction log is the fallback.
func (s *Service) DailyUsage(
	ctx context.Context,
	userID string,
	daysBack int,
) (int64, error) {
	if daysBack < 1 {
		daysBack = 1
	}
	if daysBack > maxUsageDays {
		daysBack = maxUsageDays
	}

	ctx, span := core.StartSpan(ctx, "ledger.daily_usage",
		attribute.Int("ledger.days_back", daysBack),
	)

	days := window(s.now(), daysBack)
	total, err := s.usage.Sum(ctx, userID, days)
	if err == nil {
		core.EndSpan(span, nil)
		return total, nil
	}

	s.logger.Warn("usage rollup unavailable, reading transaction log",
		"user_id", userID,
		"error", err,
	)
	core.AddSpanEvent(ctx, "usage.fallback")

	total, err = s.repo.SumDebitsSince(ctx, userID, days[len(days)-1])
	core.EndSpan(span, err)
	if err != nil {
		return 0, fmt.Errorf("daily usage: %w", err)
	}
	return total, nil
}

// DaysRemaining divides the balance by the average daily debit over the
// usage window, or by the assumed daily rate when there is no history.
func (s *Service) DaysRemaining(ctx context.Context, userID string) (int64, error) {
	account, err := s.Account(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("days remaining: %w", err)
	}

	windowDays := s.cfg.UsageWindowDays
	used, err := s.DailyUsage(ctx, userID, windowDays)
	if err != nil {
		return 0, fmt.Errorf("days remaining: %w", err)
	}

	rate := used / int64(windowDays)
	if rate <= 0 {
		rate = s.cfg.AssumedDailyRate
	}
	if rate <= 0 {
		return 0, nil
	}

	return account.Balance / rate, nil
}

func (s *Service) Totals(ctx context.Context) (*Totals, error) {
	return s.repo.Totals(ctx)
}

// publishAccount pushes the account row. Publishes for one user may land out
// of commit order; subscribers order them by Version.
func (s *Service) publishAccount(
	ctx context.Context,
	eventType realtime.EventType,
	account *Account,
) {
	if s.publisher == nil {
		return
	}

	userID := account.UserID
	record := *account
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = s.now().UTC()
	}
	evt, err := realtime.NewEvent(realtime.AccountTopic(userID), eventType, record)
	if err != nil {
		s.logger.Warn("build account event", "user_id", userID, "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish account event",
			"user_id", userID,
			"error", err,
		)
	}
}
