// AngelaMos | 2026
// entity.go

package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
)

// Role is the entitlement tier stored on a profile. RoleUnknown is never
// persisted; it is what an unrecognised value decodes to.
type Role string

const (
	RoleUnknown Role = ""
	RoleMember  Role = "member"
	RolePremium Role = "premium"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleMember:
		return RoleMember
	case RolePremium:
		return RolePremium
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

func (r Role) Valid() bool {
	return r != RoleUnknown && ParseRole(string(r)) == r
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

// UnmarshalText degrades unrecognised roles instead of failing the whole
// document.
func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))
	return nil
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// ErrAlreadyExists is returned when a profile is created for an identity
// that already has one. It matches core.ErrDuplicateKey.
var ErrAlreadyExists = fmt.Errorf("profile already exists: %w", core.ErrDuplicateKey)

type Profile struct {
	ID        string    `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	FullName  string    `db:"full_name"  json:"full_name"`
	Role      Role      `db:"role"       json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// FullNameFrom picks a display name for a new profile: the full_name or name
// metadata entry, falling back to the local part of the email.
func FullNameFrom(email string, metadata map[string]string) string {
	for _, key := range []string{"full_name", "name"} {
		if v := strings.TrimSpace(metadata[key]); v != "" {
			return v
		}
	}
	return core.EmailLocalPart(email)
}
