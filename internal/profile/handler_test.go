// AngelaMos | 2026
// handler_test.go

package profile

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credit-ledger/internal/middleware"
)

// asUser authenticates every request as the X-Test-User header.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := &middleware.AccessTokenClaims{UserID: r.Header.Get("X-Test-User")}
		next.ServeHTTP(w, r.WithContext(middleware.WithClaims(r.Context(), claims)))
	})
}

func newTestRouter(repo *memRepo) http.Handler {
	svc := NewService(repo, nil, nil)
	h := NewHandler(svc)

	r := chi.NewRouter()
	h.RegisterRoutes(r, asUser)
	h.RegisterAdminRoutes(r, asUser, middleware.RequireAdmin(svc))
	return r
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Test-User", user)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHandlerCreateSelfOnly(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo)

	rec := do(t, router, http.MethodPost, "/profiles", "u1", `{"id":"u2","email":"x@y.z"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/profiles", "u1", `{"id":"u1","email":"x@y.z"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var p Profile
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &p))
	assert.Equal(t, RoleMember, p.Role)
	assert.Equal(t, "x", p.FullName)
}

func TestHandlerCreateDuplicateIsConflict(t *testing.T) {
	repo := newMemRepo()
	repo.rows["u1"] = Profile{ID: "u1", Role: RoleMember}
	router := newTestRouter(repo)

	rec := do(t, router, http.MethodPost, "/profiles", "u1", `{"id":"u1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_EXISTS", decode(t, rec).Error.Code)
}

func TestHandlerGetOwnerFiltered(t *testing.T) {
	repo := newMemRepo()
	repo.rows["u1"] = Profile{ID: "u1", Role: RoleMember}
	repo.rows["u2"] = Profile{ID: "u2", Role: RoleMember}
	repo.rows["root"] = Profile{ID: "root", Role: RoleAdmin}
	router := newTestRouter(repo)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/profiles/u1", "u1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/profiles/u2", "u1", "").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/profiles/u2", "root", "").Code)
}

func TestHandlerAdminRoleChange(t *testing.T) {
	repo := newMemRepo()
	repo.rows["u1"] = Profile{ID: "u1", Role: RoleMember}
	repo.rows["root"] = Profile{ID: "root", Role: RoleAdmin}
	router := newTestRouter(repo)

	rec := do(t, router, http.MethodPut, "/admin/profiles/u1/role", "u1", `{"role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPut, "/admin/profiles/u1/role", "root", `{"role":"owner"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPut, "/admin/profiles/u1/role", "root", `{"role":"premium"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RolePremium, repo.rows["u1"].Role)
}

func TestHandlerUpdateMe(t *testing.T) {
	repo := newMemRepo()
	repo.rows["u1"] = Profile{ID: "u1", Role: RoleMember, FullName: "Old"}
	router := newTestRouter(repo)

	rec := do(t, router, http.MethodPatch, "/profiles/me", "u1", `{"full_name":"New Name"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "New Name", repo.rows["u1"].FullName)

	rec = do(t, router, http.MethodPatch, "/profiles/me", "u1", `{"full_name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
