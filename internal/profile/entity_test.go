// AngelaMos | 2026
// entity_test.go

package profile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
)

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleMember, ParseRole("member"))
	assert.Equal(t, RolePremium, ParseRole(" Premium "))
	assert.Equal(t, RoleAdmin, ParseRole("ADMIN"))
	assert.Equal(t, RoleUnknown, ParseRole("superuser"))
	assert.Equal(t, RoleUnknown, ParseRole(""))

	assert.True(t, RoleMember.Valid())
	assert.False(t, RoleUnknown.Valid())
	assert.False(t, Role("root").Valid())
}

func TestProfileJSONDegradesUnknownRole(t *testing.T) {
	var p Profile
	err := json.Unmarshal([]byte(`{"id":"u1","email":"a@b.c","full_name":"A","role":"owner"}`), &p)
	require.NoError(t, err)

	assert.Equal(t, RoleUnknown, p.Role)
	assert.False(t, p.IsAdmin())
}

func TestProfileJSONRoundTripsKnownRole(t *testing.T) {
	raw, err := json.Marshal(Profile{ID: "u1", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"role":"admin"`)

	var back Profile
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.IsAdmin())
}

func TestFullNameFrom(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", FullNameFrom("ada@example.com", map[string]string{
		"full_name": "Ada Lovelace",
		"name":      "Ada",
	}))
	assert.Equal(t, "Ada", FullNameFrom("ada@example.com", map[string]string{"name": "Ada"}))
	assert.Equal(t, "ada", FullNameFrom("ada@example.com", map[string]string{"full_name": "  "}))
	assert.Equal(t, "ada", FullNameFrom("ada@example.com", nil))
}

func TestErrAlreadyExistsMatchesDuplicateKey(t *testing.T) {
	assert.ErrorIs(t, ErrAlreadyExists, core.ErrDuplicateKey)
}
