package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sectormem/sectormem/internal/model"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
)

func TestQuery_RejectsEmptyText(t *testing.T) {
	eng, _, _ := newTestEngine()

	_, err := eng.Query(context.Background(), "", 10, QueryFilters{})
	var invalid *registrystore.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestQuery_RejectsUnknownSector(t *testing.T) {
	eng, _, _ := newTestEngine()

	_, err := eng.Query(context.Background(), "anything", 10, QueryFilters{
		Sectors: []model.Sector{"bogus"},
	})
	var invalid *registrystore.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestQuery_ExactContentRanksFirst(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	a, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Owner: "alice"})
	require.NoError(t, err)
	_, err = eng.AddMemory(ctx, AddRequest{Content: "we met at the cafe earlier", Owner: "alice"})
	require.NoError(t, err)

	results, err := eng.Query(ctx, "i went to the market yesterday", 10, QueryFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, a.ID, results[0].Memory.ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
	require.Equal(t, model.SectorEpisodic, results[0].Sector)
}

func TestQuery_OwnerFilter(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	_, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Owner: "alice"})
	require.NoError(t, err)
	b, err := eng.AddMemory(ctx, AddRequest{Content: "we met at the cafe earlier", Owner: "bob"})
	require.NoError(t, err)

	results, err := eng.Query(ctx, "a trip into town", 10, QueryFilters{Owner: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, b.ID, results[0].Memory.ID)
}

func TestQuery_MinSalienceFilter(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	low := 0.1
	_, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Salience: &low})
	require.NoError(t, err)

	results, err := eng.Query(ctx, "i went to the market yesterday", 10, QueryFilters{MinSalience: 0.5})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestQuery_TimeWindowFilter(t *testing.T) {
	eng, st, _ := newTestEngine()
	ctx := context.Background()

	mem, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday"})
	require.NoError(t, err)
	st.mu.Lock()
	st.memories[mem.ID].CreatedAt = time.Now().Add(-48 * time.Hour)
	st.mu.Unlock()

	results, err := eng.Query(ctx, "i went to the market yesterday", 10, QueryFilters{
		Since: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = eng.Query(ctx, "i went to the market yesterday", 10, QueryFilters{
		Until: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestQuery_WaypointExpansionAttenuatesScore(t *testing.T) {
	eng, st, fv := newTestEngine()
	ctx := context.Background()

	a, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Owner: "alice"})
	require.NoError(t, err)
	b, err := eng.AddMemory(ctx, AddRequest{Content: "the stall sells fresh produce", Owner: "alice"})
	require.NoError(t, err)

	// Leave b reachable only through the graph.
	require.NoError(t, fv.DeleteAll(ctx, b.ID))
	require.NoError(t, st.UpsertWaypoint(ctx, &model.Waypoint{
		SrcID: a.ID, DstID: b.ID, Owner: "alice", Weight: 0.8,
	}))

	results, err := eng.Query(ctx, "i went to the market yesterday", 10, QueryFilters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, a.ID, results[0].Memory.ID)
	require.Equal(t, b.ID, results[1].Memory.ID)
	// srcScore * edge weight * attenuation: 1.0 * 0.8 * 0.5
	require.InDelta(t, 0.4, results[1].Score, 1e-6)
	require.Empty(t, results[1].Sector)
}

func TestQuery_SkipsStaleVectors(t *testing.T) {
	eng, st, _ := newTestEngine()
	ctx := context.Background()

	mem, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday"})
	require.NoError(t, err)
	// Simulate an orphaned vector row: the memory is gone but its vector stays.
	require.NoError(t, st.DeleteMemory(ctx, mem.ID))

	results, err := eng.Query(ctx, "i went to the market yesterday", 10, QueryFilters{})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestQuery_TruncatesToK(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	contents := []string{
		"i went to the market yesterday",
		"we met at the cafe earlier",
		"i saw the parade this morning",
	}
	for _, c := range contents {
		_, err := eng.AddMemory(ctx, AddRequest{Content: c})
		require.NoError(t, err)
	}

	results, err := eng.Query(ctx, "i went to the market yesterday", 2, QueryFilters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestQuery_ReinforceBumpsMatches(t *testing.T) {
	eng, st, _ := newTestEngine()
	ctx := context.Background()

	mem, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday"})
	require.NoError(t, err)

	results, err := eng.Query(ctx, "i went to the market yesterday", 10, QueryFilters{Reinforce: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 0.6, results[0].Memory.Salience, 1e-9)

	got, err := st.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.6, got.Salience, 1e-9)
}
