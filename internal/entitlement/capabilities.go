// AngelaMos | 2026
// capabilities.go

package entitlement

import (
	"github.com/carterperez-dev/templates/credit-ledger/internal/profile"
)

// Capabilities is what a role unlocks. IsSubscriber is true for members:
// member is the base registered tier.
type Capabilities struct {
	IsSubscriber           bool `json:"is_subscriber"`
	HasPremiumSubscription bool `json:"has_premium_subscription"`
	IsAdmin                bool `json:"is_admin"`
}

// CapabilitiesFor maps a role to its capabilities. Unknown roles unlock
// nothing.
func CapabilitiesFor(role profile.Role) Capabilities {
	switch role {
	case profile.RoleMember:
		return Capabilities{IsSubscriber: true}
	case profile.RolePremium:
		return Capabilities{HasPremiumSubscription: true}
	case profile.RoleAdmin:
		return Capabilities{IsAdmin: true}
	case profile.RoleUnknown:
		return Capabilities{}
	default:
		return Capabilities{}
	}
}
