// AngelaMos | 2026
// jwt_test.go

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credit-ledger/internal/config"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
)

func testJWTConfig(t *testing.T) config.JWTConfig {
	t.Helper()

	dir := t.TempDir()
	cfg := config.JWTConfig{
		PrivateKeyPath:     filepath.Join(dir, "private.pem"),
		PublicKeyPath:      filepath.Join(dir, "public.pem"),
		AccessTokenExpire:  15 * time.Minute,
		RefreshTokenExpire: 24 * time.Hour,
		Issuer:             "credit-ledger-test",
		Audience:           "credit-ledger-clients",
	}
	require.NoError(t, GenerateKeyPair(cfg.PrivateKeyPath, cfg.PublicKeyPath))
	return cfg
}

func newTestJWT(t *testing.T) *JWTManager {
	t.Helper()

	m, err := NewJWTManager(testJWTConfig(t))
	require.NoError(t, err)
	return m
}

func TestJWTRoundTrip(t *testing.T) {
	m := newTestJWT(t)

	issued, err := m.CreateAccessToken("user-1", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.JTI)

	claims, err := m.VerifyAccessToken(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, 3, claims.TokenVersion)
	assert.Equal(t, issued.JTI, claims.JTI)
	assert.WithinDuration(t, issued.ExpiresAt, claims.ExpiresAt, time.Second)
}

func TestJWTRejectsForeignKey(t *testing.T) {
	a := newTestJWT(t)
	b := newTestJWT(t)

	issued, err := a.CreateAccessToken("user-1", 0)
	require.NoError(t, err)

	_, err = b.VerifyAccessToken(context.Background(), issued.Token)
	require.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestJWTRejectsGarbage(t *testing.T) {
	m := newTestJWT(t)

	_, err := m.VerifyAccessToken(context.Background(), "not-a-token")
	require.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestJWTExpired(t *testing.T) {
	cfg := testJWTConfig(t)
	cfg.AccessTokenExpire = -time.Minute

	m, err := NewJWTManager(cfg)
	require.NoError(t, err)

	issued, err := m.CreateAccessToken("user-1", 0)
	require.NoError(t, err)

	_, err = m.VerifyAccessToken(context.Background(), issued.Token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrTokenRevoked)
}

func TestRefreshTokenFamilies(t *testing.T) {
	m := newTestJWT(t)

	first, err := m.CreateRefreshToken("")
	require.NoError(t, err)
	assert.NotEmpty(t, first.FamilyID)
	assert.Equal(t, core.HashToken(first.Token), first.Hash)

	next, err := m.CreateRefreshToken(first.FamilyID)
	require.NoError(t, err)
	assert.Equal(t, first.FamilyID, next.FamilyID)
	assert.NotEqual(t, first.Token, next.Token)
}

func TestJWKSHandler(t *testing.T) {
	m := newTestJWT(t)

	rec := httptest.NewRecorder()
	m.GetJWKSHandler()(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Keys, 1)
	assert.Equal(t, m.GetKeyID(), body.Keys[0]["kid"])
	assert.NotContains(t, body.Keys[0], "d")
}

func TestKeyIDStableAcrossInstances(t *testing.T) {
	cfg := testJWTConfig(t)

	first, err := NewJWTManager(cfg)
	require.NoError(t, err)
	second, err := NewJWTManager(cfg)
	require.NoError(t, err)

	assert.Len(t, first.GetKeyID(), keyIDLength)
	assert.Equal(t, first.GetKeyID(), second.GetKeyID())

	issued, err := first.CreateAccessToken("user-1", 0)
	require.NoError(t, err)
	_, err = second.VerifyAccessToken(context.Background(), issued.Token)
	assert.NoError(t, err)
}
