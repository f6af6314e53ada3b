// AngelaMos | 2026
// resolver.go

package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/profile"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
	"github.com/carterperez-dev/templates/credit-ledger/internal/session"
)

var ErrProfileUnavailable = errors.New("profile unavailable")

type Status int

const (
	StatusUnresolved Status = iota
	StatusResolved
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unresolved"
	}
}

// Store is the remote profile table. GetProfile returns core.ErrNotFound
// for a missing row; CreateProfile returns an error matching
// core.ErrDuplicateKey when the row already exists.
type Store interface {
	GetProfile(ctx context.Context, id string) (*profile.Profile, error)
	CreateProfile(ctx context.Context, req profile.CreateProfileRequest) (*profile.Profile, error)
	Subscribe(
		ctx context.Context,
		topic realtime.Topic,
		handle func(realtime.Event),
	) (session.Subscription, error)
}

// Resolver tracks the profile of the armed identity and derives its
// capabilities. It is a session.Dependent.
type Resolver struct {
	store  Store
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	epoch   uint64
	userID  string
	status  Status
	profile *profile.Profile
	sub     session.Subscription
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the identity's profile, provisioning a member profile when
// none exists. Concurrent calls for one identity share a single round trip.
func (r *Resolver) Resolve(ctx context.Context, identity session.Identity) (*profile.Profile, error) {
	v, err, _ := r.group.Do(identity.ID, func() (any, error) {
		return r.fetchOrProvision(ctx, identity)
	})
	if err != nil {
		return nil, err
	}

	p := *v.(*profile.Profile)
	return &p, nil
}

func (r *Resolver) fetchOrProvision(
	ctx context.Context,
	identity session.Identity,
) (*profile.Profile, error) {
	p, err := r.store.GetProfile(ctx, identity.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	p, err = r.store.CreateProfile(ctx, profile.CreateProfileRequest{
		ID:       identity.ID,
		Email:    identity.Email,
		FullName: profile.FullNameFrom(identity.Email, identity.Metadata),
	})
	if err == nil {
		r.logger.Info("profile provisioned", "user_id", identity.ID)
		return p, nil
	}
	if !errors.Is(err, core.ErrDuplicateKey) {
		return nil, fmt.Errorf("provision profile: %w", err)
	}

	p, err = r.store.GetProfile(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch provisioned profile: %w", err)
	}
	return p, nil
}

// Arm resolves the identity's profile and follows its changes. A failed
// resolve leaves the resolver unavailable rather than guessing a role.
func (r *Resolver) Arm(ctx context.Context, identity session.Identity) error {
	r.Disarm()

	r.mu.Lock()
	r.epoch++
	epoch := r.epoch
	r.userID = identity.ID
	r.mu.Unlock()

	p, err := r.Resolve(ctx, identity)
	if err != nil {
		r.mu.Lock()
		if r.epoch == epoch {
			r.status = StatusUnavailable
		}
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrProfileUnavailable, err)
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return nil
	}
	r.profile = p
	r.status = StatusResolved
	r.mu.Unlock()

	sub, err := r.store.Subscribe(ctx, realtime.ProfileTopic(identity.ID), r.onEvent(epoch))
	if err != nil {
		r.logger.Warn("profile channel unavailable",
			"user_id", identity.ID,
			"error", err,
		)
		return nil
	}

	r.mu.Lock()
	if r.epoch == epoch {
		r.sub = sub
		sub = nil
	}
	r.mu.Unlock()

	if sub != nil {
		r.closeSub(sub)
	}
	return nil
}

// Disarm forgets the profile and closes its channel. Events still in flight
// carry the old epoch and are dropped.
func (r *Resolver) Disarm() {
	r.mu.Lock()
	r.epoch++
	sub := r.sub
	r.sub = nil
	r.userID = ""
	r.profile = nil
	r.status = StatusUnresolved
	r.mu.Unlock()

	if sub != nil {
		r.closeSub(sub)
	}
}

// onEvent replaces the cached profile with each pushed row.
func (r *Resolver) onEvent(epoch uint64) func(realtime.Event) {
	return func(evt realtime.Event) {
		if evt.Type != realtime.EventInsert && evt.Type != realtime.EventUpdate {
			return
		}

		var p profile.Profile
		if err := evt.Decode(&p); err != nil {
			r.logger.Warn("discarding profile event", "error", err)
			return
		}

		r.mu.Lock()
		defer r.mu.Unlock()

		if r.epoch != epoch || p.ID != r.userID {
			return
		}
		r.profile = &p
		r.status = StatusResolved
	}
}

func (r *Resolver) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Profile returns the cached profile, or ErrProfileUnavailable when none is
// resolved.
func (r *Resolver) Profile() (*profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.status != StatusResolved || r.profile == nil {
		return nil, ErrProfileUnavailable
	}
	p := *r.profile
	return &p, nil
}

// Capabilities fails closed: without a resolved profile nothing is unlocked.
func (r *Resolver) Capabilities() Capabilities {
	p, err := r.Profile()
	if err != nil {
		return Capabilities{}
	}
	return CapabilitiesFor(p.Role)
}

func (r *Resolver) closeSub(sub session.Subscription) {
	if err := sub.Close(); err != nil {
		r.logger.Debug("close profile channel", "error", err)
	}
}
