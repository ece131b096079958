package topo

import (
	"context"
	"testing"

	"fleetview/pkg/model"
	"fleetview/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workerType(*model.NodeRecord) model.NodeType { return model.TypeWorker }

func rec(id string, cpu, gpu float64) *model.NodeRecord {
	return &model.NodeRecord{ID: id, Metrics: model.NodeMetrics{CPUPercent: cpu, GPUPercent: gpu}}
}

func seed(t *testing.T, s *Store, ids ...string) {
	t.Helper()
	records := make([]*model.NodeRecord, 0, len(ids))
	planned := make(map[string]model.Position)
	for i, id := range ids {
		records = append(records, rec(id, 0, 0))
		planned[id] = model.Position{X: float64(i * 300), Y: 100}
	}
	s.UpsertNodes(records, planned, workerType)
}

func TestUpsertPreservesPosition(t *testing.T) {
	s := New(store.NewMemoryStore())
	seed(t, s, "agx0")

	before := s.Nodes()[0].Position

	// Same node again with new data and a different planned position:
	// data updates, position must not move.
	s.UpsertNodes(
		[]*model.NodeRecord{rec("agx0", 88, 12)},
		map[string]model.Position{"agx0": {X: 9999, Y: 9999}},
		workerType,
	)

	nodes := s.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, before, nodes[0].Position)
	assert.Equal(t, 88.0, nodes[0].Data.Metrics.CPUPercent)
}

func TestRemoveNodePrunesEdges(t *testing.T) {
	s := New(store.NewMemoryStore())
	seed(t, s, "spark", "agx0", "agx1")

	_, err := s.AddEdge("spark", "agx0")
	require.NoError(t, err)
	keep, err := s.AddEdge("spark", "agx1")
	require.NoError(t, err)

	s.RemoveNode("agx0")

	assert.False(t, s.HasNode("agx0"))
	edges := s.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, keep.ID, edges[0].ID)
	assert.NotContains(t, s.KnownPositions(), "agx0")
}

func TestAddEdgeUnknownEndpoint(t *testing.T) {
	s := New(store.NewMemoryStore())
	seed(t, s, "spark")

	_, err := s.AddEdge("spark", "ghost")
	assert.Error(t, err)
	_, err = s.AddEdge("ghost", "spark")
	assert.Error(t, err)
	assert.Empty(t, s.Edges())
}

func TestRefreshEdgeActivity(t *testing.T) {
	s := New(store.NewMemoryStore())
	seed(t, s, "spark", "agx0", "agx1")
	_, err := s.AddEdge("spark", "agx0")
	require.NoError(t, err)
	_, err = s.AddEdge("spark", "agx1")
	require.NoError(t, err)

	s.RefreshEdgeActivity(map[string]model.NodeMetrics{
		"agx0": {CPUPercent: 60, GPUPercent: 40},
		// agx1 reported nothing this tick -> edge goes dark.
	})

	byTarget := map[string]model.EdgeActivity{}
	for _, e := range s.Edges() {
		byTarget[e.Target] = e.Activity
	}
	assert.Equal(t, model.EdgeActivity{Active: true, TrafficLevel: 50}, byTarget["agx0"])
	assert.Equal(t, model.EdgeActivity{Active: false, TrafficLevel: 0}, byTarget["agx1"])
}

func TestRefreshEdgeActivityIdempotent(t *testing.T) {
	s := New(store.NewMemoryStore())
	seed(t, s, "spark", "agx0")
	_, err := s.AddEdge("spark", "agx0")
	require.NoError(t, err)

	metrics := map[string]model.NodeMetrics{"agx0": {CPUPercent: 100, GPUPercent: 100}}
	s.RefreshEdgeActivity(metrics)
	first := s.Edges()
	s.RefreshEdgeActivity(metrics)

	assert.Equal(t, first, s.Edges())
	assert.Equal(t, 100, first[0].Activity.TrafficLevel)
}

// TestPersistenceRoundTrip a second store over the same backend restores
// the identical position map and edge set.
func TestPersistenceRoundTrip(t *testing.T) {
	backend := store.NewMemoryStore()

	s := New(backend)
	seed(t, s, "spark", "agx0")
	require.NoError(t, s.SetPosition("agx0", model.Position{X: 123, Y: 456}))
	_, err := s.AddEdge("spark", "agx0")
	require.NoError(t, err)
	want := s.Snapshot()

	reborn := New(backend)
	restored := reborn.Restore(context.Background())

	assert.True(t, restored)
	assert.Equal(t, want.Positions, reborn.KnownPositions())
	assert.Equal(t, want.Edges, reborn.Edges())
}

// TestRestoreCorrupt corrupt persisted data degrades to "no known
// positions" instead of failing startup.
func TestRestoreCorrupt(t *testing.T) {
	backend := store.NewMemoryStore()
	backend.Corrupt(store.PositionsKey, []byte("{not json"))
	backend.Corrupt(store.EdgesKey, []byte("]["))

	s := New(backend)
	restored := s.Restore(context.Background())

	assert.False(t, restored)
	assert.Empty(t, s.KnownPositions())
	assert.Empty(t, s.Edges())
}

func TestResetLayout(t *testing.T) {
	backend := store.NewMemoryStore()
	s := New(backend)
	seed(t, s, "spark", "agx0")
	_, err := s.AddEdge("spark", "agx0")
	require.NoError(t, err)

	s.ResetLayout()

	assert.Zero(t, s.NodeCount())
	assert.Empty(t, s.Edges())
	assert.Empty(t, s.KnownPositions())

	// The empty state is what persists too.
	reborn := New(backend)
	assert.False(t, reborn.Restore(context.Background()))
}

func TestSetPositionUnknownNode(t *testing.T) {
	s := New(store.NewMemoryStore())
	assert.Error(t, s.SetPosition("ghost", model.Position{}))
}
