// AngelaMos | 2026
// resolver_test.go

package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/profile"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
	"github.com/carterperez-dev/templates/credit-ledger/internal/session"
)

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

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type subscription struct {
	topic  string
	handle func(realtime.Event)
	sub    *fakeSub
}

type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]profile.Profile
	staleReads int
	getErr     error
	creates    int
	subs       []*subscription
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]profile.Profile{}}
}

func (s *fakeStore) GetProfile(_ context.Context, id string) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.staleReads > 0 {
		s.staleReads--
		return nil, core.ErrNotFound
	}
	p, ok := s.rows[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &p, nil
}

func (s *fakeStore) CreateProfile(
	_ context.Context,
	req profile.CreateProfileRequest,
) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[req.ID]; ok {
		return nil, profile.ErrAlreadyExists
	}
	s.creates++
	p := profile.Profile{
		ID:       req.ID,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     profile.RoleMember,
	}
	s.rows[req.ID] = p
	return &p, nil
}

func (s *fakeStore) Subscribe(
	_ context.Context,
	topic realtime.Topic,
	handle func(realtime.Event),
) (session.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{topic: topic.String(), handle: handle, sub: &fakeSub{}}
	s.subs = append(s.subs, sub)
	return sub.sub, nil
}

func (s *fakeStore) last(t *testing.T) *subscription {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.subs)
	return s.subs[len(s.subs)-1]
}

func ada() session.Identity {
	return session.Identity{ID: "u1", Email: "ada.lovelace@example.com"}
}

func profileEvent(t *testing.T, p profile.Profile) realtime.Event {
	t.Helper()
	evt, err := realtime.NewEvent(realtime.ProfileTopic(p.ID), realtime.EventUpdate, p)
	require.NoError(t, err)
	return evt
}

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		role profile.Role
		want Capabilities
	}{
		{profile.RoleMember, Capabilities{IsSubscriber: true}},
		{profile.RolePremium, Capabilities{HasPremiumSubscription: true}},
		{profile.RoleAdmin, Capabilities{IsAdmin: true}},
		{profile.RoleUnknown, Capabilities{}},
		{profile.ParseRole("superuser"), Capabilities{}},
		{profile.Role("owner"), Capabilities{}},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CapabilitiesFor(tt.role))
		})
	}
}

func TestResolveExisting(t *testing.T) {
	store := newFakeStore()
	store.rows["u1"] = profile.Profile{ID: "u1", Role: profile.RolePremium}
	r := NewResolver(store, nil)

	p, err := r.Resolve(context.Background(), ada())
	require.NoError(t, err)
	assert.Equal(t, profile.RolePremium, p.Role)
	assert.Zero(t, store.creates)
}

func TestResolveProvisionsMember(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		want     string
	}{
		{"full name", map[string]string{"full_name": "Ada Lovelace"}, "Ada Lovelace"},
		{"name", map[string]string{"name": "Ada"}, "Ada"},
		{"email local part", nil, "ada.lovelace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			identity := ada()
			identity.Metadata = tt.metadata

			p, err := NewResolver(store, nil).Resolve(context.Background(), identity)
			require.NoError(t, err)
			assert.Equal(t, profile.RoleMember, p.Role)
			assert.Equal(t, tt.want, p.FullName)
			assert.Equal(t, 1, store.creates)
		})
	}
}

func TestResolveDuplicateCreateRefetches(t *testing.T) {
	store := newFakeStore()
	store.rows["u1"] = profile.Profile{ID: "u1", FullName: "Winner", Role: profile.RoleMember}
	store.staleReads = 1

	p, err := NewResolver(store, nil).Resolve(context.Background(), ada())
	require.NoError(t, err)
	assert.Equal(t, "Winner", p.FullName)
	assert.Zero(t, store.creates)
}

func TestConcurrentResolveProvisionsOnce(t *testing.T) {
	store := newFakeStore()
	shared := NewResolver(store, nil)
	separate := NewResolver(store, nil)

	const callers = 8
	results := make([]*profile.Profile, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := shared
			if i%2 == 1 {
				r = separate
			}
			results[i], errs[i] = r.Resolve(context.Background(), ada())
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 1, store.creates)
	assert.Len(t, store.rows, 1)
}

func TestArmResolvesAndSubscribes(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	assert.Equal(t, StatusUnresolved, r.Status())

	require.NoError(t, r.Arm(context.Background(), ada()))

	assert.Equal(t, StatusResolved, r.Status())
	assert.Equal(t, Capabilities{IsSubscriber: true}, r.Capabilities())
	assert.Equal(t, "profiles:id=eq.u1", store.last(t).topic)
}

func TestPushedProfileReplacesCache(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	require.NoError(t, r.Arm(context.Background(), ada()))

	store.last(t).handle(profileEvent(t, profile.Profile{
		ID:       "u1",
		FullName: "Countess",
		Role:     profile.RoleAdmin,
	}))

	p, err := r.Profile()
	require.NoError(t, err)
	assert.Equal(t, "Countess", p.FullName)
	assert.Empty(t, p.Email)
	assert.True(t, r.Capabilities().IsAdmin)
}

func TestPushedUnknownRoleDegrades(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	require.NoError(t, r.Arm(context.Background(), ada()))

	store.last(t).handle(realtime.Event{
		Type:   realtime.EventUpdate,
		Record: json.RawMessage(`{"id":"u1","role":"superuser"}`),
	})

	assert.Equal(t, StatusResolved, r.Status())
	assert.Equal(t, Capabilities{}, r.Capabilities())
}

func TestStaleProfileEventIgnored(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	ctx := context.Background()

	require.NoError(t, r.Arm(ctx, ada()))
	stale := store.last(t)

	require.NoError(t, r.Arm(ctx, session.Identity{ID: "u2", Email: "grace@example.com"}))
	assert.True(t, stale.sub.isClosed())

	stale.handle(profileEvent(t, profile.Profile{ID: "u1", Role: profile.RoleAdmin}))

	p, err := r.Profile()
	require.NoError(t, err)
	assert.Equal(t, "u2", p.ID)
	assert.False(t, r.Capabilities().IsAdmin)
}

func TestArmFailureFailsClosed(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("connection reset")
	r := NewResolver(store, nil)

	err := r.Arm(context.Background(), ada())
	require.ErrorIs(t, err, ErrProfileUnavailable)

	assert.Equal(t, StatusUnavailable, r.Status())
	assert.Equal(t, Capabilities{}, r.Capabilities())
	_, err = r.Profile()
	assert.ErrorIs(t, err, ErrProfileUnavailable)
}

func TestDisarmClosesAndForgets(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	require.NoError(t, r.Arm(context.Background(), ada()))
	sub := store.last(t)

	r.Disarm()

	assert.True(t, sub.sub.isClosed())
	assert.Equal(t, StatusUnresolved, r.Status())
	_, err := r.Profile()
	assert.ErrorIs(t, err, ErrProfileUnavailable)

	sub.handle(profileEvent(t, profile.Profile{ID: "u1", Role: profile.RoleAdmin}))
	assert.Equal(t, StatusUnresolved, r.Status())
}
