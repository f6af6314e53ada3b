// AngelaMos | 2026
// session.go

package session

import (
	"context"
	"errors"
	"time"

	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoSession        = errors.New("no stored session")
)

// refreshSkew refreshes access tokens slightly before they expire.
const refreshSkew = 30 * time.Second

type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

type Identity struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is expired or about to be.
func (t Tokens) Expired(now time.Time) bool {
	return t.AccessToken == "" || !now.Add(refreshSkew).Before(t.ExpiresAt)
}

// Session is what the backend returns for a sign-in. Tokens is nil when the
// account still awaits email confirmation.
type Session struct {
	Identity Identity
	Tokens   *Tokens
}

// Subscription is an open push channel. Close stops delivery and returns
// once no handler call is in flight. It must not be called from the
// subscription's own handler.
type Subscription interface {
	Close() error
}

// Authenticator is the remote auth provider.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, tokens Tokens) error
	ConfirmEmail(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, tokens Tokens, password string) error
	UpdateMetadata(ctx context.Context, accessToken string, metadata map[string]string) (*Identity, error)
	WatchAuth(
		ctx context.Context,
		accessToken, userID string,
		handle func(realtime.Event),
	) (Subscription, error)
}

// Dependent is armed with each identity that signs in and disarmed whenever
// the identity goes away or changes.
type Dependent interface {
	Arm(ctx context.Context, identity Identity) error
	Disarm()
}
