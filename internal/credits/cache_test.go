// AngelaMos | 2026
// cache_test.go

package credits

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credit-ledger/internal/entitlement"
	"github.com/carterperez-dev/templates/credit-ledger/internal/ledger"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
	"github.com/carterperez-dev/templates/credit-ledger/internal/session"
)

var errNetwork = errors.New("dial tcp: connection refused")

type fakeSub struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type subscription struct {
	topic  string
	handle func(realtime.Event)
	sub    *fakeSub
}

type fakeRemote struct {
	mu sync.Mutex

	account    ledger.Account
	accountErr error

	ledgerErr  error
	newBalance int64
	newVersion int64
	beforeCall func()

	usageErr     error
	dailyErr     error
	daysErr      error
	daily        int64
	days         int64
	page         []ledger.Transaction
	pageErr      error
	subscribeErr error

	debits  []int64
	credits []int64
	keys    []string
	usage   []int64
	subs    []*subscription
}

func (r *fakeRemote) GetAccount(context.Context) (*ledger.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accountErr != nil {
		return nil, r.accountErr
	}
	acct := r.account
	return &acct, nil
}

func (r *fakeRemote) call(amount int64, key string, into *[]int64) (*ledger.Receipt, error) {
	r.mu.Lock()
	hook := r.beforeCall
	r.beforeCall = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	*into = append(*into, amount)
	r.keys = append(r.keys, key)
	if r.ledgerErr != nil {
		return nil, r.ledgerErr
	}
	return &ledger.Receipt{
		NewBalance:    r.newBalance,
		Version:       r.newVersion,
		TransactionID: "tx-" + key,
	}, nil
}

func (r *fakeRemote) Debit(_ context.Context, amount int64, _, key string) (*ledger.Receipt, error) {
	return r.call(amount, key, &r.debits)
}

func (r *fakeRemote) Credit(_ context.Context, amount int64, _, key string) (*ledger.Receipt, error) {
	return r.call(amount, key, &r.credits)
}

func (r *fakeRemote) RecordDailyUsage(_ context.Context, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, amount)
	return r.usageErr
}

func (r *fakeRemote) DailyUsage(context.Context, int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.daily, r.dailyErr
}

func (r *fakeRemote) DaysRemaining(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.days, r.daysErr
}

func (r *fakeRemote) ListTransactions(_ context.Context, limit, offset int) (*ledger.TransactionPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pageErr != nil {
		return nil, r.pageErr
	}
	return &ledger.TransactionPage{Transactions: r.page, Limit: limit, Offset: offset}, nil
}

func (r *fakeRemote) Subscribe(
	_ context.Context,
	topic realtime.Topic,
	handle func(realtime.Event),
) (session.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribeErr != nil {
		return nil, r.subscribeErr
	}
	s := &subscription{topic: topic.String(), handle: handle, sub: &fakeSub{}}
	r.subs = append(r.subs, s)
	return s.sub, nil
}

func (r *fakeRemote) setAccount(userID string, balance int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.account = ledger.Account{UserID: userID, Balance: balance}
}

func (r *fakeRemote) lastSub(t *testing.T) *subscription {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.subs)
	return r.subs[len(r.subs)-1]
}

func accountEvent(t *testing.T, userID string, balance int64) realtime.Event {
	t.Helper()
	return versionedEvent(t, userID, balance, 0)
}

func versionedEvent(t *testing.T, userID string, balance, version int64) realtime.Event {
	t.Helper()
	evt, err := realtime.NewEvent(
		realtime.AccountTopic(userID),
		realtime.EventUpdate,
		ledger.Account{UserID: userID, Balance: balance, Version: version},
	)
	require.NoError(t, err)
	return evt
}

func identity(id string) session.Identity {
	return session.Identity{ID: id, Email: id + "@example.com"}
}

func armed(t *testing.T, balance int64) (*Cache, *fakeRemote) {
	t.Helper()

	remote := &fakeRemote{}
	remote.setAccount("u1", balance)

	cache := NewCache(remote, Config{AssumedDailyRate: 5000})
	require.NoError(t, cache.Arm(context.Background(), identity("u1")))
	return cache, remote
}

func TestArmColdFetchesAndSubscribes(t *testing.T) {
	cache, remote := armed(t, 100000)

	balance, known := cache.Balance()
	assert.True(t, known)
	assert.Equal(t, int64(100000), balance)
	assert.Equal(t, "credit_accounts:user_id=eq.u1", remote.lastSub(t).topic)
}

func TestArmFailsWhenAccountUnavailable(t *testing.T) {
	remote := &fakeRemote{accountErr: errNetwork}
	cache := NewCache(remote, Config{})

	err := cache.Arm(context.Background(), identity("u1"))
	require.ErrorIs(t, err, ErrRemoteUnavailable)

	_, known := cache.Balance()
	assert.False(t, known)
}

func TestArmFollowsAccountAfterFailedColdFetch(t *testing.T) {
	remote := &fakeRemote{accountErr: errNetwork}
	cache := NewCache(remote, Config{})

	require.Error(t, cache.Arm(context.Background(), identity("u1")))

	sub := remote.lastSub(t)
	assert.Equal(t, "credit_accounts:user_id=eq.u1", sub.topic)

	sub.handle(versionedEvent(t, "u1", 750, 3))
	balance, known := cache.Balance()
	assert.True(t, known)
	assert.Equal(t, int64(750), balance)
}

func TestCreditReplacesWithServerBalance(t *testing.T) {
	cache, remote := armed(t, 2450)
	remote.newBalance = 7450

	receipt, err := cache.Credit(context.Background(), 5000, "bundle purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(7450), receipt.NewBalance)

	balance, _ := cache.Balance()
	assert.Equal(t, int64(7450), balance)
	assert.Equal(t, []int64{5000}, remote.credits)
	assert.Empty(t, remote.usage)
}

func TestDebitTrustsServerOverArithmetic(t *testing.T) {
	cache, remote := armed(t, 100000)
	remote.newBalance = 1234

	_, err := cache.Debit(context.Background(), 10, "consultation")
	require.NoError(t, err)
	cache.Wait()

	balance, _ := cache.Balance()
	assert.Equal(t, int64(1234), balance)
	assert.Equal(t, []int64{10}, remote.usage)
}

func TestOverspendLeavesCacheUnchanged(t *testing.T) {
	cache, remote := armed(t, 300)
	remote.ledgerErr = ledger.ErrInsufficientBalance

	_, err := cache.Debit(context.Background(), 500, "consultation")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ErrRemoteUnavailable)
	cache.Wait()

	assert.Equal(t, []int64{500}, remote.debits)
	assert.Empty(t, remote.usage)

	balance, _ := cache.Balance()
	assert.Equal(t, int64(300), balance)
}

func TestTransportFailureIsDistinguishable(t *testing.T) {
	cache, remote := armed(t, 300)
	remote.ledgerErr = errNetwork

	_, err := cache.Debit(context.Background(), 10, "consultation")
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.NotErrorIs(t, err, ledger.ErrInsufficientBalance)

	balance, _ := cache.Balance()
	assert.Equal(t, int64(300), balance)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	cache, remote := armed(t, 300)

	for _, amount := range []int64{0, -5} {
		_, err := cache.Debit(context.Background(), amount, "x")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		_, err = cache.Credit(context.Background(), amount, "x")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}
	assert.Empty(t, remote.debits)
	assert.Empty(t, remote.credits)
}

func TestNoIdentity(t *testing.T) {
	remote := &fakeRemote{}
	cache := NewCache(remote, Config{})

	_, err := cache.Debit(context.Background(), 10, "x")
	assert.ErrorIs(t, err, ErrNoIdentity)
	_, err = cache.Credit(context.Background(), 10, "x")
	assert.ErrorIs(t, err, ErrNoIdentity)
	_, err = cache.ListTransactions(context.Background(), 10, 0)
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.Empty(t, remote.debits)
}

func TestEveryCallGetsFreshIdempotencyKey(t *testing.T) {
	cache, remote := armed(t, 1000)
	remote.newBalance = 900
	ctx := context.Background()

	for range 3 {
		_, err := cache.Debit(ctx, 1, "x")
		require.NoError(t, err)
	}
	_, err := cache.Credit(ctx, 1, "x")
	require.NoError(t, err)
	cache.Wait()

	require.Len(t, remote.keys, 4)
	seen := map[string]bool{}
	for _, key := range remote.keys {
		assert.Len(t, key, 26)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestUsageFailureDoesNotAffectDebit(t *testing.T) {
	cache, remote := armed(t, 1000)
	remote.newBalance = 900
	remote.usageErr = errNetwork

	receipt, err := cache.Debit(context.Background(), 100, "consultation")
	require.NoError(t, err)
	cache.Wait()

	assert.Equal(t, int64(900), receipt.NewBalance)
	balance, _ := cache.Balance()
	assert.Equal(t, int64(900), balance)
	assert.Equal(t, []int64{100}, remote.usage)
}

func TestStaleResultAfterIdentitySwitchIsDiscarded(t *testing.T) {
	cache, remote := armed(t, 1000)
	remote.newBalance = 1
	ctx := context.Background()

	remote.beforeCall = func() {
		remote.setAccount("u2", 5000)
		require.NoError(t, cache.Arm(ctx, identity("u2")))
	}

	receipt, err := cache.Debit(ctx, 999, "consultation")
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.NewBalance)
	cache.Wait()

	balance, _ := cache.Balance()
	assert.Equal(t, int64(5000), balance)
}

func TestSignOutDuringDebitDiscardsResult(t *testing.T) {
	cache, remote := armed(t, 1000)
	remote.newBalance = 1
	remote.beforeCall = cache.Disarm

	_, err := cache.Debit(context.Background(), 999, "consultation")
	require.NoError(t, err)
	cache.Wait()

	_, known := cache.Balance()
	assert.False(t, known)
}

func TestPushedEventsReplaceBalance(t *testing.T) {
	cache, remote := armed(t, 1000)
	handle := remote.lastSub(t).handle

	handle(accountEvent(t, "u1", 640))
	balance, _ := cache.Balance()
	assert.Equal(t, int64(640), balance)

	handle(realtime.Event{Type: realtime.EventSignedOut})
	balance, _ = cache.Balance()
	assert.Equal(t, int64(640), balance)
}

func TestOutOfOrderEventsKeepNewestVersion(t *testing.T) {
	cache, remote := armed(t, 100)
	handle := remote.lastSub(t).handle

	handle(versionedEvent(t, "u1", 80, 3))
	handle(versionedEvent(t, "u1", 90, 2))

	balance, _ := cache.Balance()
	assert.Equal(t, int64(80), balance)

	handle(versionedEvent(t, "u1", 70, 4))
	balance, _ = cache.Balance()
	assert.Equal(t, int64(70), balance)
}

func TestOlderReceiptDoesNotOverwriteNewerPush(t *testing.T) {
	cache, remote := armed(t, 100)
	remote.newBalance = 90
	remote.newVersion = 2

	remote.beforeCall = func() {
		remote.lastSub(t).handle(versionedEvent(t, "u1", 80, 3))
	}

	receipt, err := cache.Debit(context.Background(), 10, "consultation")
	require.NoError(t, err)
	assert.Equal(t, int64(90), receipt.NewBalance)
	cache.Wait()

	balance, _ := cache.Balance()
	assert.Equal(t, int64(80), balance)
}

func TestOldIdentityEventsNeverReachNewIdentity(t *testing.T) {
	cache, remote := armed(t, 1000)
	ctx := context.Background()
	first := remote.lastSub(t)

	cache.Disarm()
	assert.True(t, first.sub.closed)

	first.handle(accountEvent(t, "u1", 1))

	remote.setAccount("u2", 5000)
	require.NoError(t, cache.Arm(ctx, identity("u2")))

	first.handle(accountEvent(t, "u1", 2))
	first.handle(accountEvent(t, "u2", 3))

	balance, _ := cache.Balance()
	assert.Equal(t, int64(5000), balance)

	remote.lastSub(t).handle(accountEvent(t, "u2", 4200))
	balance, _ = cache.Balance()
	assert.Equal(t, int64(4200), balance)
}

func TestSubscribeFailureKeepsCacheUsable(t *testing.T) {
	remote := &fakeRemote{subscribeErr: errNetwork}
	remote.setAccount("u1", 800)
	remote.newBalance = 700
	cache := NewCache(remote, Config{})

	require.NoError(t, cache.Arm(context.Background(), identity("u1")))

	_, err := cache.Debit(context.Background(), 100, "x")
	require.NoError(t, err)
	cache.Wait()

	balance, _ := cache.Balance()
	assert.Equal(t, int64(700), balance)
}

func TestAnalyticsFallbacks(t *testing.T) {
	cache, remote := armed(t, 12345)
	remote.dailyErr = errNetwork
	remote.daysErr = errNetwork
	remote.newBalance = 12000
	ctx := context.Background()

	assert.Equal(t, int64(0), cache.DailyUsage(ctx, 7))
	assert.Equal(t, int64(2), cache.DaysRemaining(ctx))

	_, err := cache.Debit(ctx, 345, "consultation")
	require.NoError(t, err)
	_, err = cache.Credit(ctx, 1, "x")
	require.NoError(t, err)
	cache.Wait()
}

func TestAnalyticsPassThrough(t *testing.T) {
	cache, remote := armed(t, 100)
	remote.daily = 4200
	remote.days = 9

	assert.Equal(t, int64(4200), cache.DailyUsage(context.Background(), 7))
	assert.Equal(t, int64(9), cache.DaysRemaining(context.Background()))
}

func TestListTransactions(t *testing.T) {
	cache, remote := armed(t, 100)
	remote.page = []ledger.Transaction{{ID: "b", Amount: -5}, {ID: "a", Amount: 100}}

	txs, err := cache.ListTransactions(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "b", txs[0].ID)

	remote.pageErr = errNetwork
	_, err = cache.ListTransactions(context.Background(), 2, 0)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestProjectionIsDisplayOnly(t *testing.T) {
	cache, _ := armed(t, 2450)

	p := cache.Project(3000)
	assert.Equal(t, int64(-550), p.After)
	assert.False(t, p.Sufficient)

	balance, _ := cache.Balance()
	assert.Equal(t, int64(2450), balance)

	assert.True(t, cache.Project(2450).Sufficient)
	assert.False(t, NewProjection(0, false, 0).Sufficient)
}

func TestGate(t *testing.T) {
	admin := entitlement.CapabilitiesFor("admin")
	member := entitlement.Capabilities{IsSubscriber: true}

	assert.True(t, Gate(admin, 0, 1_000_000))
	assert.True(t, Gate(member, 500, 500))
	assert.False(t, Gate(member, 499, 500))
	assert.False(t, Gate(entitlement.Capabilities{}, 0, 1))
}
