// AngelaMos | 2026
// provider.go

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/carterperez-dev/templates/credit-ledger/internal/auth"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
)

// Provider owns the signed-in identity and its tokens. Every transition
// disarms the registered dependents, and every transition into
// StateAuthenticated arms them again with the new identity.
type Provider struct {
	auth   Authenticator
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// transition serializes restore, sign-in and sign-out.
	transition sync.Mutex
	refreshMu  sync.Mutex

	mu         sync.RWMutex
	state      State
	gen        uint64
	identity   *Identity
	tokens     Tokens
	authSub    Subscription
	dependents []Dependent
}

func NewProvider(authenticator Authenticator, store Store, logger *slog.Logger) *Provider {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		auth:   authenticator,
		store:  store,
		logger: logger,
		now:    time.Now,
		state:  StateUnknown,
	}
}

// Register adds a dependent. Dependents are armed and disarmed in
// registration order.
func (p *Provider) Register(d Dependent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dependents = append(p.dependents, d)
}

func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Provider) Current() (Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.identity == nil {
		return Identity{}, false
	}
	return cloneIdentity(*p.identity), true
}

// AccessToken returns a usable access token, refreshing it first when it is
// about to expire.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	tokens, signedIn := p.tokens, p.identity != nil
	p.mu.RUnlock()

	if !signedIn {
		return "", ErrNotAuthenticated
	}
	if !tokens.Expired(p.now()) {
		return tokens.AccessToken, nil
	}

	return p.refresh(ctx)
}

func (p *Provider) refresh(ctx context.Context) (string, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.RLock()
	tokens, gen, signedIn := p.tokens, p.gen, p.identity != nil
	p.mu.RUnlock()

	if !signedIn {
		return "", ErrNotAuthenticated
	}
	if !tokens.Expired(p.now()) {
		return tokens.AccessToken, nil
	}

	sess, err := p.auth.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh session: %w", err)
	}
	if sess.Tokens == nil {
		return "", fmt.Errorf("refresh session: %w", core.ErrTokenInvalid)
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	p.tokens = *sess.Tokens
	p.mu.Unlock()

	p.persist()
	return sess.Tokens.AccessToken, nil
}

// Restore resumes the stored session, refreshing its tokens when they have
// expired. Without a usable session the provider becomes anonymous.
func (p *Provider) Restore(ctx context.Context) error {
	p.transition.Lock()
	defer p.transition.Unlock()

	saved, err := p.store.Load()
	if err != nil {
		p.toAnonymous()
		if errors.Is(err, ErrNoSession) {
			return nil
		}
		return fmt.Errorf("restore session: %w", err)
	}

	identity, tokens := saved.Identity, saved.Tokens
	if tokens.Expired(p.now()) {
		sess, err := p.auth.Refresh(ctx, tokens.RefreshToken)
		if err != nil {
			p.toAnonymous()
			if isRejected(err) {
				p.clearStore()
			}
			return fmt.Errorf("restore session: %w", err)
		}
		if sess.Tokens == nil {
			p.toAnonymous()
			p.clearStore()
			return fmt.Errorf("restore session: %w", core.ErrTokenInvalid)
		}
		if sess.Identity.ID != "" {
			identity = sess.Identity
		}
		tokens = *sess.Tokens
	}

	p.authenticate(ctx, identity, tokens)
	return nil
}

// SignUp registers a new identity. When the backend opens a session right
// away the provider becomes authenticated; otherwise the state is unchanged
// until the email is confirmed and the user signs in.
func (p *Provider) SignUp(
	ctx context.Context,
	email, password string,
	metadata map[string]string,
) (Identity, error) {
	sess, err := p.auth.SignUp(ctx, email, password, metadata)
	if err != nil {
		return Identity{}, err
	}

	if sess.Tokens != nil {
		p.transition.Lock()
		p.authenticate(ctx, sess.Identity, *sess.Tokens)
		p.transition.Unlock()
	}

	return cloneIdentity(sess.Identity), nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (Identity, error) {
	sess, err := p.auth.SignIn(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	if sess.Tokens == nil {
		return Identity{}, auth.ErrEmailUnconfirmed
	}

	p.transition.Lock()
	p.authenticate(ctx, sess.Identity, *sess.Tokens)
	p.transition.Unlock()

	return cloneIdentity(sess.Identity), nil
}

// SignOut always clears the local session. The remote error, if any, is
// returned after local state is gone.
func (p *Provider) SignOut(ctx context.Context) error {
	p.transition.Lock()
	defer p.transition.Unlock()

	p.mu.RLock()
	tokens, signedIn := p.tokens, p.identity != nil
	p.mu.RUnlock()

	p.toAnonymous()
	p.clearStore()

	if !signedIn {
		return nil
	}

	if err := p.auth.SignOut(ctx, tokens); err != nil {
		p.logger.Warn("remote sign-out failed", "error", err)
		return fmt.Errorf("sign out: %w", err)
	}

	return nil
}

func (p *Provider) ConfirmEmail(ctx context.Context, token string) error {
	return p.auth.ConfirmEmail(ctx, token)
}

func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	return p.auth.ResetPassword(ctx, email)
}

// UpdatePassword changes the password and keeps this session alive; other
// sessions of the identity are ended by the backend.
func (p *Provider) UpdatePassword(ctx context.Context, password string) error {
	access, err := p.AccessToken(ctx)
	if err != nil {
		return err
	}

	p.mu.RLock()
	tokens := p.tokens
	p.mu.RUnlock()
	tokens.AccessToken = access

	return p.auth.UpdatePassword(ctx, tokens, password)
}

func (p *Provider) UpdateMetadata(ctx context.Context, metadata map[string]string) (Identity, error) {
	access, err := p.AccessToken(ctx)
	if err != nil {
		return Identity{}, err
	}

	updated, err := p.auth.UpdateMetadata(ctx, access, metadata)
	if err != nil {
		return Identity{}, err
	}

	p.mu.Lock()
	if p.identity != nil && p.identity.ID == updated.ID {
		p.identity.Metadata = maps.Clone(updated.Metadata)
	}
	p.mu.Unlock()

	p.persist()
	return cloneIdentity(*updated), nil
}

// Close releases dependents and the auth channel without signing out. The
// stored session survives for the next Restore.
func (p *Provider) Close() {
	p.transition.Lock()
	defer p.transition.Unlock()
	p.teardown()
}

// authenticate switches to identity. Callers hold p.transition.
func (p *Provider) authenticate(ctx context.Context, identity Identity, tokens Tokens) {
	p.teardown()

	p.mu.Lock()
	p.gen++
	gen := p.gen
	held := cloneIdentity(identity)
	p.identity = &held
	p.tokens = tokens
	p.state = StateAuthenticated
	deps := append([]Dependent(nil), p.dependents...)
	p.mu.Unlock()

	p.persist()

	p.logger.Info("session authenticated", "user_id", identity.ID)

	sub, err := p.auth.WatchAuth(ctx, tokens.AccessToken, identity.ID, p.onAuthEvent(gen))
	if err != nil {
		p.logger.Warn("auth channel unavailable", "user_id", identity.ID, "error", err)
	} else {
		p.mu.Lock()
		if p.gen == gen {
			p.authSub = sub
			sub = nil
		}
		p.mu.Unlock()
		if sub != nil {
			closeQuietly(p.logger, sub)
		}
	}

	for _, d := range deps {
		if !p.current(gen) {
			break
		}
		if err := d.Arm(ctx, cloneIdentity(identity)); err != nil {
			p.logger.Warn("dependent failed to arm",
				"user_id", identity.ID,
				"error", err,
			)
		}
	}

	if !p.current(gen) {
		p.disarmAll(deps)
	}
}

// onAuthEvent handles pushed session changes. It flips the state in place,
// disarms dependents and clears the stored session before returning. It
// performs no remote calls and starts no goroutines.
func (p *Provider) onAuthEvent(gen uint64) func(realtime.Event) {
	return func(evt realtime.Event) {
		if evt.Type != realtime.EventSignedOut && evt.Type != realtime.EventTokenRevoked {
			return
		}

		p.mu.Lock()
		if p.gen != gen || p.state != StateAuthenticated {
			p.mu.Unlock()
			return
		}
		userID := p.identity.ID
		p.gen++
		p.identity = nil
		p.tokens = Tokens{}
		p.state = StateAnonymous
		deps := append([]Dependent(nil), p.dependents...)
		p.mu.Unlock()

		p.logger.Info("session ended remotely",
			"user_id", userID,
			"event", string(evt.Type),
		)

		p.disarmAll(deps)
		p.clearStore()
	}
}

func (p *Provider) toAnonymous() {
	p.teardown()

	p.mu.Lock()
	p.gen++
	p.identity = nil
	p.tokens = Tokens{}
	p.state = StateAnonymous
	p.mu.Unlock()
}

// teardown closes the auth channel, then disarms every dependent.
func (p *Provider) teardown() {
	p.mu.Lock()
	sub := p.authSub
	p.authSub = nil
	deps := append([]Dependent(nil), p.dependents...)
	p.mu.Unlock()

	if sub != nil {
		closeQuietly(p.logger, sub)
	}
	p.disarmAll(deps)
}

func (p *Provider) disarmAll(deps []Dependent) {
	for _, d := range deps {
		d.Disarm()
	}
}

func (p *Provider) current(gen uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gen == gen
}

func (p *Provider) persist() {
	p.mu.RLock()
	if p.identity == nil {
		p.mu.RUnlock()
		return
	}
	snapshot := &Persisted{Identity: cloneIdentity(*p.identity), Tokens: p.tokens}
	p.mu.RUnlock()

	if err := p.store.Save(snapshot); err != nil {
		p.logger.Warn("persist session", "error", err)
	}
}

func (p *Provider) clearStore() {
	if err := p.store.Clear(); err != nil {
		p.logger.Warn("clear stored session", "error", err)
	}
}

// isRejected reports whether the backend refused the refresh token itself,
// as opposed to being unreachable.
func isRejected(err error) bool {
	return errors.Is(err, core.ErrTokenInvalid) ||
		errors.Is(err, core.ErrTokenExpired) ||
		errors.Is(err, core.ErrTokenRevoked) ||
		errors.Is(err, auth.ErrTokenReuse)
}

func closeQuietly(logger *slog.Logger, sub Subscription) {
	if err := sub.Close(); err != nil {
		logger.Debug("close subscription", "error", err)
	}
}

func cloneIdentity(id Identity) Identity {
	id.Metadata = maps.Clone(id.Metadata)
	return id
}
