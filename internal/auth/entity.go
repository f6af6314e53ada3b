// AngelaMos | 2026
// entity.go

package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailUnconfirmed   = errors.New("email not confirmed")
	ErrAlreadyRegistered  = errors.New("email already registered")
	ErrDomainNotAllowed   = errors.New("email domain not allowed")
	ErrRateLimited        = errors.New("rate limited")
	ErrTokenReuse         = errors.New("token reuse detected")
)

// RefreshToken is one link in a rotation chain. Tokens sharing a FamilyID
// descend from the same sign-in.
type RefreshToken struct {
	ID           string     `db:"id"`
	UserID       string     `db:"user_id"`
	TokenHash    string     `db:"token_hash"`
	FamilyID     string     `db:"family_id"`
	ExpiresAt    time.Time  `db:"expires_at"`
	CreatedAt    time.Time  `db:"created_at"`
	IsUsed       bool       `db:"is_used"`
	UsedAt       *time.Time `db:"used_at"`
	RevokedAt    *time.Time `db:"revoked_at"`
	ReplacedByID *string    `db:"replaced_by_id"`
	UserAgent    string     `db:"user_agent"`
	IPAddress    string     `db:"ip_address"`
}

func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsValid() bool {
	return !t.IsExpired() && !t.IsRevoked() && !t.IsUsed
}

func (t *RefreshToken) Session() SessionInfo {
	return SessionInfo{
		ID:        t.ID,
		UserAgent: t.UserAgent,
		IPAddress: t.IPAddress,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

// UserInfo is the slice of a user account the auth flows need.
type UserInfo struct {
	ID             string
	Email          string
	PasswordHash   string
	Metadata       map[string]string
	EmailConfirmed bool
	TokenVersion   int
	CreatedAt      time.Time
}

// actionKind namespaces single-use tokens kept in Redis.
type actionKind string

const (
	actionConfirm actionKind = "confirm"
	actionReset   actionKind = "reset"
)

func actionKey(kind actionKind, token string) string {
	return "auth:" + string(kind) + ":" + token
}

func blacklistKey(jti string) string {
	return "blacklist:" + jti
}
