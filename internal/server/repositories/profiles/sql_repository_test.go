package profiles

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repotest"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQLRepository(db, dbx.Postgres), mock, db
}

func TestCreate_PostgresPlaceholders(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+profiles\s*\(id,\s*name,\s*salt,\s*verifier,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*$`

	mock.ExpectExec(q).
		WithArgs(sqlmock.AnyArg(), "alice", []byte("salt"), []byte("verifier"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := repo.Create(context.Background(), &models.Profile{Name: "alice", Salt: []byte("salt"), Verifier: []byte("verifier")})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Fatalf("id and created_at must be assigned: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+profiles`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Profile{Name: "alice"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByName_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*name,\s*salt,\s*verifier,\s*current_version,\s*created_at\s+FROM\s+profiles\s+WHERE\s+name\s*=\s*\$1\s*$`
	mock.ExpectQuery(q).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByName(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestIncrementCurrentVersion_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+profiles\s+SET\s+current_version\s*=\s*current_version\s*\+\s*1\s+WHERE\s+id\s*=\s*\$1\s+RETURNING\s+current_version\s*$`
	mock.ExpectQuery(q).WithArgs("p-1").WillReturnError(errors.New("db err"))

	_, err := repo.IncrementCurrentVersion(context.Background(), "p-1")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestSQLite_Behaviour(t *testing.T) {
	db := repotest.OpenSQLite(t)
	repo := NewSQLRepository(db, dbx.SQLite)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.Profile{Name: "alice", Salt: []byte("s"), Verifier: []byte("v")})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &models.Profile{Name: "alice", Salt: []byte("s"), Verifier: []byte("v")})
	require.Error(t, err, "name is unique")

	got, err := repo.GetByName(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, []byte("s"), got.Salt)
	require.Equal(t, []byte("v"), got.Verifier)
	require.EqualValues(t, 0, got.CurrentVersion)
	require.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Second)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", byID.Name)

	v1, err := repo.IncrementCurrentVersion(ctx, created.ID)
	require.NoError(t, err)
	v2, err := repo.IncrementCurrentVersion(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, v1+1, v2)

	_, err = repo.IncrementCurrentVersion(ctx, "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = repo.Create(ctx, &models.Profile{Name: "bob", Salt: []byte("s"), Verifier: []byte("v")})
	require.NoError(t, err)
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "alice", list[0].Name)
}
