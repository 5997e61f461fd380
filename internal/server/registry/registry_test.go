package registry

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/cryptox"
	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repotest"
	"github.com/stretchr/testify/require"
)

type staticFP struct {
	mu  sync.Mutex
	fp  string
	err error
}

func (s *staticFP) Fingerprint() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp, s.err
}

func (s *staticFP) set(fp string) {
	s.mu.Lock()
	s.fp = fp
	s.mu.Unlock()
}

const fp1 = "aa11bb22"

func setup(t *testing.T) (*Registry, *staticFP, *sql.DB) {
	t.Helper()
	db := repotest.OpenSQLite(t)
	repotest.MustExec(t, db,
		`INSERT INTO profiles (id, name, salt, verifier, created_at) VALUES (?, ?, ?, ?, ?)`,
		"p1", "alice", []byte("s"), []byte("v"), time.Now().UTC())
	fp := &staticFP{fp: fp1}
	r := New(db, repomanager.NewSQLRepositoryManager(dbx.SQLite), fp, logging.Nop())
	return r, fp, db
}

func TestEnroll_StoresOnlyHash(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	d, token, err := r.Enroll(ctx, "p1", DeviceInfo{Name: "  Pixel  ", Model: "Pixel 8", Platform: "Android"}, common.AccessFull, "AA:11:BB:22")
	require.NoError(t, err)
	require.Len(t, token, 64)
	require.Equal(t, cryptox.HashToken(token), d.TokenHash)
	require.NotEqual(t, token, d.TokenHash)
	require.Equal(t, "Pixel", d.Name)
	require.Equal(t, "android", d.Platform)
	require.Equal(t, fp1, d.Fingerprint)

	_, _, err = r.Enroll(ctx, "p1", DeviceInfo{}, "admin", fp1)
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestAuthenticate_RotatesEveryTime(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	_, t0, err := r.Enroll(ctx, "p1", DeviceInfo{Name: "phone"}, common.AccessFull, fp1)
	require.NoError(t, err)

	d, t1, err := r.Authenticate(ctx, t0)
	require.NoError(t, err)
	require.NotEqual(t, t0, t1)
	require.Equal(t, "p1", d.ProfileID)

	_, _, err = r.Authenticate(ctx, t0)
	require.ErrorIs(t, err, common.ErrorUnauthorized, "pre-rotation token is dead")

	_, t2, err := r.Authenticate(ctx, t1)
	require.NoError(t, err)
	require.NotEqual(t, t1, t2)

	_, _, err = r.Authenticate(ctx, "")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
	_, _, err = r.Authenticate(ctx, "unknown")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestAuthenticate_ConcurrentReplayOnlyOneWins(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	_, tok, err := r.Enroll(ctx, "p1", DeviceInfo{Name: "phone"}, common.AccessFull, fp1)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Authenticate(ctx, tok)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, common.ErrorUnauthorized)
		}
	}
	require.Equal(t, 1, ok)
}

func TestAuthenticate_TrustReset(t *testing.T) {
	r, fp, _ := setup(t)
	ctx := context.Background()

	_, tok, err := r.Enroll(ctx, "p1", DeviceInfo{Name: "phone"}, common.AccessFull, fp1)
	require.NoError(t, err)

	fp.set("ffff0000")
	_, _, err = r.Authenticate(ctx, tok)
	require.ErrorIs(t, err, common.ErrTrustReset)

	fp.set(fp1)
	_, _, err = r.Authenticate(ctx, tok)
	require.NoError(t, err, "a rejected attempt does not consume the token")
}

func TestAuthenticate_LockedAnchor(t *testing.T) {
	r, fp, _ := setup(t)
	fp.err = common.ErrNoCertificate

	_, _, err := r.Authenticate(context.Background(), "tok")
	require.ErrorIs(t, err, common.ErrNoCertificate)
}

func TestUnpair_InvalidatesCurrentToken(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	d, tok, err := r.Enroll(ctx, "p1", DeviceInfo{Name: "phone"}, common.AccessFull, fp1)
	require.NoError(t, err)
	_, tok, err = r.Authenticate(ctx, tok)
	require.NoError(t, err)

	require.NoError(t, r.Unpair(ctx, d.ID))
	_, _, err = r.Authenticate(ctx, tok)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	require.ErrorIs(t, r.Unpair(ctx, d.ID), common.ErrorNotFound)
}

func TestUnpairForProfile_ChecksOwner(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	d, _, err := r.Enroll(ctx, "p1", DeviceInfo{Name: "phone"}, common.AccessFull, fp1)
	require.NoError(t, err)

	require.ErrorIs(t, r.UnpairForProfile(ctx, "other", d.ID), common.ErrorNotFound)
	require.NoError(t, r.UnpairForProfile(ctx, "p1", d.ID))
}

func TestCountListInactive(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	base := time.Now()
	r.now = func() time.Time { return base.Add(-40 * 24 * time.Hour) }
	_, _, err := r.Enroll(ctx, "p1", DeviceInfo{Name: "old"}, common.AccessReadOnly, fp1)
	require.NoError(t, err)

	r.now = func() time.Time { return base }
	_, _, err = r.Enroll(ctx, "p1", DeviceInfo{Name: "new"}, common.AccessFull, fp1)
	require.NoError(t, err)

	n, err := r.DeviceCount(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	list, err := r.ListDevices(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	inactive, err := r.InactiveDevices(ctx, "p1", 30)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	require.Equal(t, "old", inactive[0].Name)

	_, err = r.InactiveDevices(ctx, "p1", 0)
	require.ErrorIs(t, err, common.ErrorValidation)

	n, err = r.DeviceCount(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, n, "inactive devices are never removed")
}

func TestAuthenticate_RollsBackOnRotateFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	r := New(db, repomanager.NewSQLRepositoryManager(dbx.SQLite), &staticFP{fp: fp1}, logging.Nop())
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+devices\s+WHERE\s+token_hash`).
		WithArgs(cryptox.HashToken("tok")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "profile_id", "name", "model", "platform", "token_hash", "access", "fingerprint", "paired_at", "last_seen"}).
			AddRow("d1", "p1", "phone", "", "", cryptox.HashToken("tok"), common.AccessFull, fp1, now, now))
	mock.ExpectExec(`UPDATE\s+devices\s+SET\s+token_hash`).WillReturnError(errors.New("disk I/O"))
	mock.ExpectRollback()

	_, _, err = r.Authenticate(context.Background(), "tok")
	require.ErrorContains(t, err, "disk I/O")
	require.NoError(t, mock.ExpectationsWereMet())
}
