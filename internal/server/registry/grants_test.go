package registry

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repotest"
	"github.com/stretchr/testify/require"
)

func setupGrants(t *testing.T) *GrantService {
	t.Helper()
	db := repotest.OpenSQLite(t)
	for _, p := range [][2]string{{"pa", "alice"}, {"pb", "bob"}, {"pc", "carol"}} {
		repotest.MustExec(t, db,
			`INSERT INTO profiles (id, name, salt, verifier, created_at) VALUES (?, ?, ?, ?, ?)`,
			p[0], p[1], []byte("s"), []byte("v"), time.Now().UTC())
	}
	return NewGrantService(db, repomanager.NewSQLRepositoryManager(dbx.SQLite), logging.Nop())
}

func TestGrantService_GrantRevoke(t *testing.T) {
	s := setupGrants(t)
	ctx := context.Background()

	g, err := s.Grant(ctx, "pa", "bob", common.AccessReadOnly)
	require.NoError(t, err)
	require.Equal(t, "pb", g.GranteeID)

	_, err = s.Grant(ctx, "pa", "alice", common.AccessFull)
	require.ErrorIs(t, err, common.ErrorValidation)
	_, err = s.Grant(ctx, "pa", "bob", "owner")
	require.ErrorIs(t, err, common.ErrorValidation)
	_, err = s.Grant(ctx, "pa", "nobody", common.AccessFull)
	require.ErrorIs(t, err, common.ErrorNotFound)

	given, err := s.Given(ctx, "pa")
	require.NoError(t, err)
	require.Len(t, given, 1)

	received, err := s.Received(ctx, "pb")
	require.NoError(t, err)
	require.Len(t, received, 1)

	require.NoError(t, s.Revoke(ctx, "pa", "bob"))
	require.ErrorIs(t, s.Revoke(ctx, "pa", "bob"), common.ErrorNotFound)
}

func TestGrantService_Scope(t *testing.T) {
	s := setupGrants(t)
	ctx := context.Background()

	_, err := s.Grant(ctx, "pa", "bob", common.AccessFull)
	require.NoError(t, err)
	_, err = s.Grant(ctx, "pc", "bob", common.AccessReadOnly)
	require.NoError(t, err)

	full := &models.Device{ProfileID: "pb", Access: common.AccessFull}
	scope, err := s.Scope(ctx, full)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"pb": common.AccessFull,
		"pa": common.AccessFull,
		"pc": common.AccessReadOnly,
	}, scope)

	ro := &models.Device{ProfileID: "pb", Access: common.AccessReadOnly}
	scope, err = s.Scope(ctx, ro)
	require.NoError(t, err)
	require.Equal(t, common.AccessReadOnly, scope["pb"])
	require.Equal(t, common.AccessReadOnly, scope["pa"], "device level caps the grant level")

	other := &models.Device{ProfileID: "pa", Access: common.AccessFull}
	scope, err = s.Scope(ctx, other)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"pa": common.AccessFull}, scope)
}
