// AngelaMos | 2026
// repository_test.go

package profile

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var profileCols = []string{"id", "email", "full_name", "role", "created_at", "updated_at"}

func TestRepositoryCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles (id, email, full_name, role)")).
		WithArgs("u1", "a@b.c", "A", "member").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	p := &Profile{ID: "u1", Email: "a@b.c", FullName: "A", Role: RoleMember}
	require.NoError(t, repo.Create(context.Background(), p))

	assert.Equal(t, now, p.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &Profile{ID: "u1", Role: RoleMember})
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow("u1", "a@b.c", "A", "premium", now, now))

	p, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, RolePremium, p.Role)
	assert.Equal(t, "A", p.FullName)
}

func TestRepositoryGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestRepositoryUpdateRole(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles")).
		WithArgs("u1", "admin").
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow("u1", "a@b.c", "A", "admin", now, now))

	p, err := repo.UpdateRole(context.Background(), "u1", RoleAdmin)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestRepositoryListFilters(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM profiles WHERE TRUE AND (email ILIKE $1 OR full_name ILIKE $1) AND role = $2")).
		WithArgs("%50\\%%", "member").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $3 OFFSET $4")).
		WithArgs("%50\\%%", "member", 10, 10).
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow("u1", "a@b.c", "A", "member", now, now))

	profiles, total, err := repo.List(context.Background(), ListProfilesParams{
		Page:     2,
		PageSize: 10,
		Search:   "50%",
		Role:     RoleMember,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, profiles, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
