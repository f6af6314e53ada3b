// AngelaMos | 2026
// provider_test.go

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credit-ledger/internal/auth"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSub struct {
	closed int
}

func (s *fakeSub) Close() error {
	s.closed++
	return nil
}

type watch struct {
	userID string
	token  string
	handle func(realtime.Event)
	sub    *fakeSub
}

type fakeAuth struct {
	mu sync.Mutex

	accounts   map[string]string
	signOutErr error
	refreshErr error
	pending    bool

	calls   []string
	watches []*watch
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{accounts: map[string]string{
		"ada@example.com":   "password-1",
		"grace@example.com": "password-2",
	}}
}

func (f *fakeAuth) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAuth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sessionFor(email string, pending bool) *Session {
	s := &Session{Identity: Identity{ID: "id-" + email, Email: email}}
	if !pending {
		s.Tokens = &Tokens{
			AccessToken:  "access-" + email,
			RefreshToken: "refresh-" + email,
			ExpiresAt:    testNow.Add(15 * time.Minute),
		}
	}
	return s
}

func (f *fakeAuth) SignUp(
	_ context.Context,
	email, password string,
	_ map[string]string,
) (*Session, error) {
	f.record("signup")
	if _, exists := f.accounts[email]; exists {
		return nil, auth.ErrAlreadyRegistered
	}
	f.accounts[email] = password
	return sessionFor(email, f.pending), nil
}

func (f *fakeAuth) SignIn(_ context.Context, email, password string) (*Session, error) {
	f.record("signin")
	if f.accounts[email] != password {
		return nil, auth.ErrInvalidCredentials
	}
	return sessionFor(email, false), nil
}

func (f *fakeAuth) Refresh(_ context.Context, refreshToken string) (*Session, error) {
	f.record("refresh")
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &Session{Tokens: &Tokens{
		AccessToken:  "access-refreshed",
		RefreshToken: refreshToken + "-next",
		ExpiresAt:    testNow.Add(15 * time.Minute),
	}}, nil
}

func (f *fakeAuth) SignOut(context.Context, Tokens) error {
	f.record("signout")
	return f.signOutErr
}

func (f *fakeAuth) ConfirmEmail(context.Context, string) error {
	f.record("confirm")
	return nil
}

func (f *fakeAuth) ResetPassword(context.Context, string) error {
	f.record("reset")
	return nil
}

func (f *fakeAuth) UpdatePassword(_ context.Context, tokens Tokens, _ string) error {
	f.record("password:" + tokens.RefreshToken)
	return nil
}

func (f *fakeAuth) UpdateMetadata(
	_ context.Context,
	accessToken string,
	metadata map[string]string,
) (*Identity, error) {
	f.record("metadata:" + accessToken)
	return &Identity{ID: "id-ada@example.com", Email: "ada@example.com", Metadata: metadata}, nil
}

func (f *fakeAuth) WatchAuth(
	_ context.Context,
	accessToken, userID string,
	handle func(realtime.Event),
) (Subscription, error) {
	f.record("watch")
	w := &watch{userID: userID, token: accessToken, handle: handle, sub: &fakeSub{}}
	f.mu.Lock()
	f.watches = append(f.watches, w)
	f.mu.Unlock()
	return w.sub, nil
}

func (f *fakeAuth) lastWatch(t *testing.T) *watch {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.watches)
	return f.watches[len(f.watches)-1]
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type recordingDependent struct {
	name string
	log  *journal
	err  error
}

func (d *recordingDependent) Arm(_ context.Context, identity Identity) error {
	d.log.add(fmt.Sprintf("%s:arm:%s", d.name, identity.Email))
	return d.err
}

func (d *recordingDependent) Disarm() {
	d.log.add(d.name + ":disarm")
}

type fixture struct {
	provider *Provider
	auth     *fakeAuth
	store    *MemoryStore
	log      *journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fa := newFakeAuth()
	store := NewMemoryStore()
	p := NewProvider(fa, store, nil)
	p.now = func() time.Time { return testNow }

	log := &journal{}
	p.Register(&recordingDependent{name: "entitlement", log: log})
	p.Register(&recordingDependent{name: "credits", log: log})

	return &fixture{provider: p, auth: fa, store: store, log: log}
}

func TestRestoreWithoutSession(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateUnknown, f.provider.State())

	require.NoError(t, f.provider.Restore(context.Background()))
	assert.Equal(t, StateAnonymous, f.provider.State())

	_, ok := f.provider.Current()
	assert.False(t, ok)
	assert.Equal(t, []string{"entitlement:disarm", "credits:disarm"}, f.log.all())
}

func TestSignInArmsDependentsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	identity, err := f.provider.SignIn(ctx, "ada@example.com", "password-1")
	require.NoError(t, err)
	assert.Equal(t, "id-ada@example.com", identity.ID)
	assert.Equal(t, StateAuthenticated, f.provider.State())

	assert.Equal(t, []string{
		"entitlement:disarm",
		"credits:disarm",
		"entitlement:arm:ada@example.com",
		"credits:arm:ada@example.com",
	}, f.log.all())

	w := f.auth.lastWatch(t)
	assert.Equal(t, "id-ada@example.com", w.userID)
	assert.Equal(t, "access-ada@example.com", w.token)

	saved, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refresh-ada@example.com", saved.Tokens.RefreshToken)
}

func TestSwitchingIdentityDisarmsBeforeArming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.provider.SignIn(ctx, "ada@example.com", "password-1")
	require.NoError(t, err)
	first := f.auth.lastWatch(t)
	f.log.reset()

	_, err = f.provider.SignIn(ctx, "grace@example.com", "password-2")
	require.NoError(t, err)

	assert.Equal(t, 1, first.sub.closed)
	assert.Equal(t, []string{
		"entitlement:disarm",
		"credits:disarm",
		"entitlement:arm:grace@example.com",
		"credits:arm:grace@example.com",
	}, f.log.all())
}

func TestSignInFailureLeavesState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.provider.Restore(ctx))
	f.log.reset()

	_, err := f.provider.SignIn(ctx, "ada@example.com", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Equal(t, StateAnonymous, f.provider.State())
	assert.Empty(t, f.log.all())
}

func TestDependentArmFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.provider.Register(&recordingDependent{name: "broken", log: f.log, err: errors.New("down")})

	_, err := f.provider.SignIn(context.Background(), "ada@example.com", "password-1")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, f.provider.State())
	assert.Contains(t, f.log.all(), "broken:arm:ada@example.com")
}

func TestSignOutClearsLocallyWhenRemoteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.provider.SignIn(ctx, "ada@example.com", "password-1")
	require.NoError(t, err)
	w := f.auth.lastWatch(t)
	f.log.reset()

	remote := errors.New("network unreachable")
	f.auth.signOutErr = remote

	err = f.provider.SignOut(ctx)
	require.ErrorIs(t, err, remote)

	assert.Equal(t, StateAnonymous, f.provider.State())
	_, ok := f.provider.Current()
	assert.False(t, ok)
	_, err = f.store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 1, w.sub.closed)
	assert.Equal(t, []string{"entitlement:disarm", "credits:disarm"}, f.log.all())

	_, err = f.provider.AccessToken(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAuthEventFlipsStateWithoutRemoteCalls(t *testing.T) {
	for _, eventType := range []realtime.EventType{
		realtime.EventSignedOut,
		realtime.EventTokenRevoked,
	} {
		t.Run(string(eventType), func(t *testing.T) {
			f := newFixture(t)

			_, err := f.provider.SignIn(context.Background(), "ada@example.com", "password-1")
			require.NoError(t, err)
			w := f.auth.lastWatch(t)
			f.log.reset()
			calls := f.auth.callCount()

			w.handle(realtime.Event{Type: eventType})

			assert.Equal(t, StateAnonymous, f.provider.State())
			assert.Equal(t, calls, f.auth.callCount())
			assert.Equal(t, []string{"entitlement:disarm", "credits:disarm"}, f.log.all())
			assert.Equal(t, 0, w.sub.closed)

			_, err = f.store.Load()
			assert.ErrorIs(t, err, ErrNoSession)

			f.provider.Close()
			assert.Equal(t, 1, w.sub.closed)
		})
	}
}

func TestAuthEventIgnoresOtherTypes(t *testing.T) {
	f := newFixture(t)

	_, err := f.provider.SignIn(context.Background(), "ada@example.com", "password-1")
	require.NoError(t, err)

	f.auth.lastWatch(t).handle(realtime.Event{Type: realtime.EventUpdate})
	assert.Equal(t, StateAuthenticated, f.provider.State())
}

func TestStaleAuthEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.provider.SignIn(ctx, "ada@example.com", "password-1")
	require.NoError(t, err)
	stale := f.auth.lastWatch(t)

	_, err = f.provider.SignIn(ctx, "grace@example.com", "password-2")
	require.NoError(t, err)

	stale.handle(realtime.Event{Type: realtime.EventSignedOut})

	assert.Equal(t, StateAuthenticated, f.provider.State())
	current, ok := f.provider.Current()
	require.True(t, ok)
	assert.Equal(t, "grace@example.com", current.Email)
}

func TestRestoreValidSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(&Persisted{
		Identity: Identity{ID: "u1", Email: "ada@example.com"},
		Tokens: Tokens{
			AccessToken:  "still-good",
			RefreshToken: "r1",
			ExpiresAt:    testNow.Add(10 * time.Minute),
		},
	}))

	require.NoError(t, f.provider.Restore(context.Background()))
	assert.Equal(t, StateAuthenticated, f.provider.State())

	token, err := f.provider.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still-good", token)
	assert.NotContains(t, f.auth.calls, "refresh")
}

func TestRestoreRefreshesExpiredTokens(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(&Persisted{
		Identity: Identity{ID: "u1", Email: "ada@example.com"},
		Tokens: Tokens{
			AccessToken:  "old",
			RefreshToken: "r1",
			ExpiresAt:    testNow.Add(-time.Minute),
		},
	}))

	require.NoError(t, f.provider.Restore(context.Background()))
	assert.Equal(t, StateAuthenticated, f.provider.State())

	identity, ok := f.provider.Current()
	require.True(t, ok)
	assert.Equal(t, "u1", identity.ID)

	saved, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "r1-next", saved.Tokens.RefreshToken)
}

func TestRestoreWithRevokedRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.auth.refreshErr = core.ErrTokenRevoked
	require.NoError(t, f.store.Save(&Persisted{
		Identity: Identity{ID: "u1", Email: "ada@example.com"},
		Tokens:   Tokens{AccessToken: "old", RefreshToken: "r1", ExpiresAt: testNow},
	}))

	err := f.provider.Restore(context.Background())
	require.ErrorIs(t, err, core.ErrTokenRevoked)
	assert.Equal(t, StateAnonymous, f.provider.State())

	_, err = f.store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRestoreKeepsSessionWhenBackendUnreachable(t *testing.T) {
	f := newFixture(t)
	f.auth.refreshErr = errors.New("connection refused")
	require.NoError(t, f.store.Save(&Persisted{
		Identity: Identity{ID: "u1", Email: "ada@example.com"},
		Tokens:   Tokens{AccessToken: "old", RefreshToken: "r1", ExpiresAt: testNow},
	}))

	require.Error(t, f.provider.Restore(context.Background()))
	assert.Equal(t, StateAnonymous, f.provider.State())

	_, err := f.store.Load()
	assert.NoError(t, err)
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.provider.SignIn(ctx, "ada@example.com", "password-1")
	require.NoError(t, err)

	f.provider.now = func() time.Time { return testNow.Add(15 * time.Minute) }

	token, err := f.provider.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", token)
}

func TestSignUpAwaitingConfirmation(t *testing.T) {
	f := newFixture(t)
	f.auth.pending = true
	ctx := context.Background()
	require.NoError(t, f.provider.Restore(ctx))

	identity, err := f.provider.SignUp(ctx, "new@example.com", "password-9", nil)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", identity.Email)
	assert.Equal(t, StateAnonymous, f.provider.State())
}

func TestSignUpWithSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.provider.SignUp(context.Background(), "new@example.com", "password-9", nil)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, f.provider.State())

	_, err = f.provider.SignUp(context.Background(), "new@example.com", "password-9", nil)
	assert.ErrorIs(t, err, auth.ErrAlreadyRegistered)
}

func TestUpdateMetadataReplacesHeldIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.provider.SignIn(ctx, "ada@example.com", "password-1")
	require.NoError(t, err)

	updated, err := f.provider.UpdateMetadata(ctx, map[string]string{"full_name": "Ada L"})
	require.NoError(t, err)
	assert.Equal(t, "Ada L", updated.Metadata["full_name"])

	current, _ := f.provider.Current()
	assert.Equal(t, "Ada L", current.Metadata["full_name"])
	assert.Contains(t, f.auth.calls, "metadata:access-ada@example.com")
}

func TestUpdatePasswordKeepsCurrentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.provider.UpdatePassword(ctx, "password-x"), ErrNotAuthenticated)

	_, err := f.provider.SignIn(ctx, "ada@example.com", "password-1")
	require.NoError(t, err)

	require.NoError(t, f.provider.UpdatePassword(ctx, "password-x"))
	assert.Contains(t, f.auth.calls, "password:refresh-ada@example.com")
}
