// AngelaMos | 2026
// cache.go

package credits

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/carterperez-dev/templates/credit-ledger/internal/ledger"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
	"github.com/carterperez-dev/templates/credit-ledger/internal/session"
)

var (
	ErrNoIdentity        = errors.New("no identity armed")
	ErrRemoteUnavailable = errors.New("ledger unavailable")
	ErrAnalyticsDegraded = errors.New("analytics degraded")
)

const (
	defaultAssumedDailyRate = 5000
	usageRecordTimeout      = 10 * time.Second
)

// Remote is the backend ledger scoped to the signed-in user.
type Remote interface {
	GetAccount(ctx context.Context) (*ledger.Account, error)
	Debit(ctx context.Context, amount int64, description, idempotencyKey string) (*ledger.Receipt, error)
	Credit(ctx context.Context, amount int64, description, idempotencyKey string) (*ledger.Receipt, error)
	RecordDailyUsage(ctx context.Context, amount int64) error
	DailyUsage(ctx context.Context, daysBack int) (int64, error)
	DaysRemaining(ctx context.Context) (int64, error)
	ListTransactions(ctx context.Context, limit, offset int) (*ledger.TransactionPage, error)
	Subscribe(
		ctx context.Context,
		topic realtime.Topic,
		handle func(realtime.Event),
	) (session.Subscription, error)
}

type Config struct {
	AssumedDailyRate int64
	Logger           *slog.Logger
}

// Cache mirrors the armed identity's balance. The balance is written only by
// debit and credit results and by pushed account rows. Each write must carry
// the epoch that was current when its request started, and an account
// version no older than the one already cached.
type Cache struct {
	remote    Remote
	logger    *slog.Logger
	dailyRate int64
	newKey    func() string

	mu      sync.Mutex
	epoch   uint64
	userID  string
	balance int64
	version int64
	known   bool
	sub     session.Subscription

	background sync.WaitGroup
}

func NewCache(remote Remote, cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rate := cfg.AssumedDailyRate
	if rate <= 0 {
		rate = defaultAssumedDailyRate
	}
	return &Cache{
		remote:    remote,
		logger:    logger,
		dailyRate: rate,
		newKey:    newIdempotencyKey,
	}
}

func newIdempotencyKey() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Arm loads the identity's account and follows it. The previous identity, if
// any, is disarmed first so its events can no longer reach the cache. When
// the cold fetch fails the account is still followed, so the first pushed
// row fills the cache; the fetch error is returned.
func (c *Cache) Arm(ctx context.Context, identity session.Identity) error {
	c.Disarm()

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.userID = identity.ID
	c.mu.Unlock()

	account, fetchErr := c.remote.GetAccount(ctx)
	if fetchErr == nil {
		c.apply(epoch, account.Balance, account.Version)
	}

	c.follow(ctx, epoch, identity.ID)

	if fetchErr != nil {
		return remoteError("load account", fetchErr)
	}
	return nil
}

func (c *Cache) follow(ctx context.Context, epoch uint64, userID string) {
	sub, err := c.remote.Subscribe(ctx, realtime.AccountTopic(userID), c.onEvent(epoch))
	if err != nil {
		c.logger.Warn("account channel unavailable",
			"user_id", userID,
			"error", err,
		)
		return
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.sub = sub
		sub = nil
	}
	c.mu.Unlock()

	if sub != nil {
		c.closeSub(sub)
	}
}

// Disarm forgets the balance and closes the account channel before
// returning.
func (c *Cache) Disarm() {
	c.mu.Lock()
	c.epoch++
	sub := c.sub
	c.sub = nil
	c.userID = ""
	c.balance = 0
	c.version = 0
	c.known = false
	c.mu.Unlock()

	if sub != nil {
		c.closeSub(sub)
	}
}

// Balance returns the last known balance and whether one is known.
func (c *Cache) Balance() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, c.known
}

// Debit spends amount. A debit above the cached balance is still sent: the
// backend decides. On success the cache takes the backend's new balance and
// the spend is added to today's usage in the background.
func (c *Cache) Debit(ctx context.Context, amount int64, reason string) (*ledger.Receipt, error) {
	receipt, err := c.mutate(ctx, amount, reason, c.remote.Debit)
	if err != nil {
		return nil, err
	}

	c.recordUsage(ctx, amount)
	return receipt, nil
}

// Credit adds amount, taking the backend's new balance on success.
func (c *Cache) Credit(ctx context.Context, amount int64, reason string) (*ledger.Receipt, error) {
	return c.mutate(ctx, amount, reason, c.remote.Credit)
}

func (c *Cache) mutate(
	ctx context.Context,
	amount int64,
	reason string,
	call func(context.Context, int64, string, string) (*ledger.Receipt, error),
) (*ledger.Receipt, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	epoch, ok := c.armedEpoch()
	if !ok {
		return nil, ErrNoIdentity
	}

	receipt, err := call(ctx, amount, reason, c.newKey())
	if err != nil {
		return nil, remoteError("ledger call", err)
	}

	if !c.apply(epoch, receipt.NewBalance, receipt.Version) {
		c.logger.Debug("discarding stale ledger result",
			"transaction_id", receipt.TransactionID,
		)
	}
	return receipt, nil
}

func (c *Cache) recordUsage(ctx context.Context, amount int64) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageRecordTimeout)
		defer cancel()

		if err := c.remote.RecordDailyUsage(ctx, amount); err != nil {
			c.logger.Warn("record daily usage failed",
				"amount", amount,
				"error", err,
			)
		}
	}()
}

// Wait blocks until background usage recording has finished.
func (c *Cache) Wait() {
	c.background.Wait()
}

// ListTransactions returns a page of the armed identity's history, newest
// first.
func (c *Cache) ListTransactions(ctx context.Context, limit, offset int) ([]ledger.Transaction, error) {
	if _, ok := c.armedEpoch(); !ok {
		return nil, ErrNoIdentity
	}

	page, err := c.remote.ListTransactions(ctx, limit, offset)
	if err != nil {
		return nil, remoteError("list transactions", err)
	}
	return page.Transactions, nil
}

// DailyUsage returns the spend over the trailing daysBack days, or 0 when
// the backend cannot compute it.
func (c *Cache) DailyUsage(ctx context.Context, daysBack int) int64 {
	usage, err := c.remote.DailyUsage(ctx, daysBack)
	if err != nil {
		c.logger.Warn("daily usage unavailable",
			"days_back", daysBack,
			"error", fmt.Errorf("%w: %w", ErrAnalyticsDegraded, err),
		)
		return 0
	}
	return usage
}

// DaysRemaining returns the backend's estimate, falling back to the cached
// balance divided by the assumed daily rate.
func (c *Cache) DaysRemaining(ctx context.Context) int64 {
	days, err := c.remote.DaysRemaining(ctx)
	if err == nil {
		return days
	}

	balance, _ := c.Balance()
	estimate := balance / c.dailyRate
	c.logger.Warn("days remaining unavailable, using estimate",
		"estimate", estimate,
		"error", fmt.Errorf("%w: %w", ErrAnalyticsDegraded, err),
	)
	return estimate
}

// Project previews a spend against the cached balance for display. It never
// changes the cache.
func (c *Cache) Project(cost int64) Projection {
	balance, known := c.Balance()
	return NewProjection(balance, known, cost)
}

func (c *Cache) onEvent(epoch uint64) func(realtime.Event) {
	return func(evt realtime.Event) {
		if evt.Type != realtime.EventInsert && evt.Type != realtime.EventUpdate {
			return
		}

		var account ledger.Account
		if err := evt.Decode(&account); err != nil {
			c.logger.Warn("discarding account event", "error", err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if account.UserID != c.userID || !c.storeLocked(epoch, account.Balance, account.Version) {
			c.logger.Debug("discarding stale account event",
				"user_id", account.UserID,
				"version", account.Version,
			)
		}
	}
}

// apply stores balance if epoch is still current and version is not older
// than the cached one.
func (c *Cache) apply(epoch uint64, balance, version int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(epoch, balance, version)
}

func (c *Cache) storeLocked(epoch uint64, balance, version int64) bool {
	if c.epoch != epoch {
		return false
	}
	if c.known && version < c.version {
		return false
	}
	c.balance = balance
	c.version = version
	c.known = true
	return true
}

func (c *Cache) armedEpoch() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch, c.userID != ""
}

func (c *Cache) closeSub(sub session.Subscription) {
	if err := sub.Close(); err != nil {
		c.logger.Debug("close account channel", "error", err)
	}
}

// remoteError keeps ledger verdicts distinguishable and folds everything
// else into ErrRemoteUnavailable.
func remoteError(op string, err error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrInvalidAmount) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRemoteUnavailable, err)
}
