// AngelaMos | 2026
// gate.go

package credits

import (
	"github.com/carterperez-dev/templates/credit-ledger/internal/entitlement"
)

// Projection is a display hint for a pending spend. It is never written back
// into the cache.
type Projection struct {
	Balance    int64 `json:"balance"`
	Known      bool  `json:"known"`
	Cost       int64 `json:"cost"`
	After      int64 `json:"after"`
	Sufficient bool  `json:"sufficient"`
}

func NewProjection(balance int64, known bool, cost int64) Projection {
	after := balance - cost
	return Projection{
		Balance:    balance,
		Known:      known,
		Cost:       cost,
		After:      after,
		Sufficient: known && after >= 0,
	}
}

// Gate reports whether a feature costing cost may be used. Admins are never
// balance gated.
func Gate(caps entitlement.Capabilities, balance, cost int64) bool {
	if caps.IsAdmin {
		return true
	}
	return balance >= cost
}
