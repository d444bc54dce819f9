package memory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/store"
)

func TestServiceRelated(t *testing.T) {
	emb := newFakeEmbedder()
	emb.vectors["cats"] = []float32{1, 0, 0, 0}
	emb.vectors["kittens"] = []float32{0.9, 0.1, 0, 0}
	emb.vectors["taxes"] = []float32{0, 0, 1, 0}
	svc, st, _ := newTestService(t, emb, nil)
	ctx := context.Background()

	ids := make(map[string]string)
	for _, c := range []string{"cats", "kittens", "taxes"} {
		id, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: c})
		require.NoError(t, err)
		waitEmbedded(t, st, id)
		ids[c] = id
	}

	related, err := svc.Related(ctx, ids["cats"], 0.5, 5)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, ids["kittens"], related[0].Fragment.ID)
	assert.Greater(t, related[0].Similarity, 0.9)
}

func TestServiceRelatedNeedsEmbedding(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "no vector"})
	require.NoError(t, err)

	_, err = svc.Related(ctx, id, 0.5, 5)
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
}

func TestServiceTopAndList(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	for i, imp := range []float64{2, 9, 5} {
		_, err := svc.Ingest(ctx, IngestRequest{
			PersonaID:  "p1",
			Content:    "fact",
			Importance: imp,
			Timestamp:  t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	top, err := svc.Top(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 9.0, top[0].Importance)
	assert.Equal(t, 5.0, top[1].Importance)

	all, err := svc.List(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	long, err := svc.List(ctx, "p1", model.TierLongTerm)
	require.NoError(t, err)
	assert.Empty(t, long)

	_, err = svc.Top(ctx, "ghost", 2)
	assert.ErrorIs(t, err, model.ErrPersonaNotFound)
}

func TestServiceLinkAndDelete(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	a, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "a"})
	require.NoError(t, err)
	b, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "b"})
	require.NoError(t, err)
	c, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p2", Content: "c"})
	require.NoError(t, err)

	require.NoError(t, svc.Link(ctx, model.Link{FromID: a, ToID: b, Rel: "depends_on"}))
	assert.ErrorIs(t, svc.Link(ctx, model.Link{FromID: a, ToID: c, Rel: "relates_to"}), model.ErrInvalidInput)

	links, err := svc.Links(ctx, b)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.False(t, links[0].CreatedAt.IsZero())

	require.NoError(t, svc.Unlink(ctx, model.Link{FromID: a, ToID: b, Rel: "depends_on"}))
	links, err = svc.Links(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, links)

	require.NoError(t, svc.Delete(ctx, a))
	_, err = svc.Get(ctx, a)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, a), model.ErrNotFound)
}

func TestServiceExportImport(t *testing.T) {
	src, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	a, err := src.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "alpha"})
	require.NoError(t, err)
	b, err := src.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "beta"})
	require.NoError(t, err)
	_, err = src.Ingest(ctx, IngestRequest{PersonaID: "p2", Content: "gamma"})
	require.NoError(t, err)
	require.NoError(t, src.Link(ctx, model.Link{FromID: a, ToID: b, Rel: "relates_to"}))

	dump, err := src.Export(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, dump.Fragments, 2)
	assert.Len(t, dump.Links, 1)

	_, err = src.Export(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrPersonaNotFound)

	dst, _, _ := newTestService(t, nil, nil)
	n, err := dst.Import(ctx, dump)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = dst.Import(ctx, dump)
	require.NoError(t, err)
	assert.Zero(t, n, "existing fragments are skipped")

	stats, err := dst.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFragments)
	assert.Equal(t, 1, stats.TotalLinks)

	personas, err := dst.Personas(ctx)
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, "p1", personas[0].ID)
}

func TestServiceConsolidate(t *testing.T) {
	svc, st, clock := newTestService(t, nil, func(o *Options) { o.Policy = StaticPolicy{} })
	ctx := context.Background()

	id, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "old news"})
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	report, err := svc.Consolidate(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assertTier(t, st, id, model.TierShortTerm)

	reports, err := svc.ConsolidateAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assertTier(t, st, id, model.TierLongTerm)

	_, err = svc.Consolidate(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrPersonaNotFound)
}

func TestServiceTierNeverRegresses(t *testing.T) {
	svc, st, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "x"})
	require.NoError(t, err)

	f, err := st.Get(ctx, id)
	require.NoError(t, err)
	f.Tier = model.TierLongTerm
	require.NoError(t, st.Upsert(ctx, f))

	f.Tier = model.TierShortTerm
	assert.ErrorIs(t, st.Upsert(ctx, f), model.ErrTierRegression)
}

func TestServiceCloseStopsIntake(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	clock := &testClock{now: t0}
	svc, err := NewService(st, newFakeEmbedder(), testOptions(clock), zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	_, err = svc.Ingest(context.Background(), IngestRequest{PersonaID: "p1", Content: "last words"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))
	assert.Zero(t, svc.PendingEmbeddings())

	_, err = svc.Ingest(context.Background(), IngestRequest{PersonaID: "p1", Content: "too late"})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
