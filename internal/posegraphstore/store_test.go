package posegraphstore

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/icp"
	"github.com/fieldcortex/slamcore/internal/posegraph"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_OpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	id := uuid.New()
	require.NoError(t, s.CreateSession(id, 1700000000))
}

func TestStore_SaveAndLoadGraph(t *testing.T) {
	s := openTestStore(t)
	id := uuid.New()
	require.NoError(t, s.CreateSession(id, 1700000000))

	nodes := []posegraph.Node{
		{X: 0, Y: 0, Theta: 0},
		{X: 1, Y: 0, Theta: 0.1},
		{X: 2, Y: 0.5, Theta: 0.2},
	}
	for i, n := range nodes {
		require.NoError(t, s.SaveNode(id, i, n))
	}

	edges := []posegraph.Edge{
		{I: 0, J: 1, T: geometry.NewTransform2d(1, 0, 0.1)},
		{I: 1, J: 2, T: geometry.NewTransform2d(1, 0.5, 0.1)},
	}
	for i, e := range edges {
		require.NoError(t, s.SaveEdge(id, i, e))
	}

	gotNodes, gotEdges, err := s.LoadGraph(id)
	require.NoError(t, err)
	require.Equal(t, nodes, gotNodes)
	require.Equal(t, edges, gotEdges)
}

func TestStore_SaveNodeUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	id := uuid.New()
	require.NoError(t, s.CreateSession(id, 1700000000))

	require.NoError(t, s.SaveNode(id, 0, posegraph.Node{X: 0, Y: 0, Theta: 0}))
	require.NoError(t, s.SaveNode(id, 0, posegraph.Node{X: 5, Y: 5, Theta: 1}))

	gotNodes, _, err := s.LoadGraph(id)
	require.NoError(t, err)
	require.Len(t, gotNodes, 1)
	require.Equal(t, posegraph.Node{X: 5, Y: 5, Theta: 1}, gotNodes[0])
}

func TestStore_SaveAndLoadScan(t *testing.T) {
	s := openTestStore(t)
	id := uuid.New()
	require.NoError(t, s.CreateSession(id, 1700000000))

	points := []icp.Point2{{X: 1, Y: 2}, {X: 3, Y: 4}}
	require.NoError(t, s.SaveScan(id, 0, points))

	got, err := s.LoadScan(id, 0)
	require.NoError(t, err)
	require.Equal(t, points, got)
}

func TestStore_LoadScanMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	id := uuid.New()
	require.NoError(t, s.CreateSession(id, 1700000000))

	got, err := s.LoadScan(id, 42)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_SessionsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	idA := uuid.New()
	idB := uuid.New()
	require.NoError(t, s.CreateSession(idA, 1700000000))
	require.NoError(t, s.CreateSession(idB, 1700000001))

	require.NoError(t, s.SaveNode(idA, 0, posegraph.Node{X: 1}))
	require.NoError(t, s.SaveNode(idB, 0, posegraph.Node{X: 2}))

	nodesA, _, err := s.LoadGraph(idA)
	require.NoError(t, err)
	nodesB, _, err := s.LoadGraph(idB)
	require.NoError(t, err)

	require.Equal(t, []posegraph.Node{{X: 1}}, nodesA)
	require.Equal(t, []posegraph.Node{{X: 2}}, nodesB)
}
