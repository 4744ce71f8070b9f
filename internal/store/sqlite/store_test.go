package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"reasonmesh/internal/planner"
	"reasonmesh/internal/store/sqlite"
	"reasonmesh/internal/store/storetest"
)

func TestSQLite(t *testing.T) {
	root := t.TempDir()
	suite.Run(t, &storetest.Suite{
		New: func() (storetest.Backend, error) {
			dir, err := os.MkdirTemp(root, "case")
			if err != nil {
				return nil, err
			}
			return sqlite.Open(context.Background(), filepath.Join(dir, "mesh.db"))
		},
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "mesh.db")

	st, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, st.CreateGoal(ctx, planner.Goal{ID: "goal_keep", Status: planner.StatusApproved}))
	n, err := st.NextRoundNumber(ctx, "goal_keep")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, st.Close())

	st, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer st.Close()

	g, err := st.GetGoal(ctx, "goal_keep")
	require.NoError(t, err)
	require.Equal(t, planner.StatusApproved, g.Status)

	n, err = st.NextRoundNumber(ctx, "goal_keep")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestInMemoryDatabase(t *testing.T) {
	st, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer st.Close()

	goals, err := st.ListGoals(context.Background())
	require.NoError(t, err)
	require.Empty(t, goals)
}
