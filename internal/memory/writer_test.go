package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/persona-memory/internal/embedding"
	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/store"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeEmbedder returns a scripted vector per text, or fallback.
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int

	started chan struct{}
	release chan struct{}
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors:  make(map[string][]float32),
		fallback: []float32{0, 0, 0, 1},
	}
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return e.fallback, nil
}

func (e *fakeEmbedder) Dims() int { return 4 }

func testOptions(clock *testClock) Options {
	opts := DefaultOptions()
	opts.Now = clock.Now
	opts.EmbedRetry = embedding.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Timeout:        time.Second,
	}
	return opts
}

func newTestService(t *testing.T, emb embedding.Embedder, mutate func(*Options)) (*Service, store.Store, *testClock) {
	t.Helper()
	st := store.NewMemStore()
	clock := &testClock{now: t0}
	opts := testOptions(clock)
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewService(st, emb, opts, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = svc.Close(context.Background())
		_ = st.Close()
	})
	return svc, st, clock
}

func waitEmbedded(t *testing.T, st store.Store, id string) *model.Fragment {
	t.Helper()
	var f *model.Fragment
	require.Eventually(t, func() bool {
		got, err := st.Get(context.Background(), id)
		if err != nil {
			return false
		}
		f = got
		return got.EmbeddingStatus != model.EmbeddingPending
	}, 2*time.Second, 5*time.Millisecond)
	return f
}

func TestIngestStoresWorkingFragment(t *testing.T) {
	emb := newFakeEmbedder()
	emb.vectors["Hello world"] = []float32{1, 0, 0, 0}
	svc, st, _ := newTestService(t, emb, nil)
	ctx := context.Background()

	id, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "Hello world", Timestamp: t0})
	require.NoError(t, err)

	f, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TierWorking, f.Tier)
	assert.Equal(t, model.CategoryChat, f.Category)
	assert.Equal(t, 5.0, f.Importance)
	assert.Equal(t, 5.0, f.BaseImportance)
	assert.True(t, f.Timestamp.Equal(t0))
	assert.Contains(t, f.Sparse, "hello")

	f = waitEmbedded(t, st, id)
	assert.Equal(t, model.EmbeddingReady, f.EmbeddingStatus)
	assert.Equal(t, []float32{1, 0, 0, 0}, f.Embedding)

	p, err := st.GetPersona(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Dimension)
}

func TestIngestDefaultsTimestampToClock(t *testing.T) {
	svc, st, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "no timestamp"})
	require.NoError(t, err)

	f, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, f.Timestamp.Equal(t0))
}

func TestIngestValidation(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)

	tests := []struct {
		name string
		req  IngestRequest
	}{
		{"empty persona", IngestRequest{Content: "x"}},
		{"empty content", IngestRequest{PersonaID: "p1", Content: "  "}},
		{"unknown category", IngestRequest{PersonaID: "p1", Content: "x", Category: "GOSSIP"}},
		{"importance too high", IngestRequest{PersonaID: "p1", Content: "x", Importance: 11}},
		{"importance too low", IngestRequest{PersonaID: "p1", Content: "x", Importance: 0.5}},
		{"emotion out of range", IngestRequest{PersonaID: "p1", Content: "x", EmotionalImpact: -10.5}},
		{"timestamp before epoch", IngestRequest{PersonaID: "p1", Content: "x", Timestamp: time.Date(1969, 7, 20, 0, 0, 0, 0, time.UTC)}},
		{"timestamp past ulid range", IngestRequest{PersonaID: "p1", Content: "x", Timestamp: time.Date(10890, 1, 1, 0, 0, 0, 0, time.UTC)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() {
				_, err = svc.Ingest(context.Background(), tt.req)
			})
			assert.ErrorIs(t, err, model.ErrInvalidInput)
		})
	}
}

func TestIngestAcceptsEpochTimestamp(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)

	epoch := time.Unix(0, 0).UTC()
	id, err := svc.Ingest(context.Background(), IngestRequest{PersonaID: "p1", Content: "first light", Timestamp: epoch})
	require.NoError(t, err)

	f, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, f.Timestamp.Equal(epoch))
}

func TestIngestWithoutEmbedderDegrades(t *testing.T) {
	svc, st, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "sparse only"})
	require.NoError(t, err)

	f, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, f.Degraded())
	assert.Nil(t, f.Embedding)
}

func TestIngestEnforcesWorkingCapacity(t *testing.T) {
	svc, st, _ := newTestService(t, nil, func(o *Options) { o.MaxWorking = 3 })
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := svc.Ingest(ctx, IngestRequest{
			PersonaID: "p1",
			Content:   "event",
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	working, err := st.List(ctx, "p1", model.TierWorking)
	require.NoError(t, err)
	require.Len(t, working, 3)
	for i, f := range working {
		assert.Equal(t, ids[i+2], f.ID)
	}

	short, err := st.List(ctx, "p1", model.TierShortTerm)
	require.NoError(t, err)
	require.Len(t, short, 2)
	assert.Equal(t, ids[0], short[0].ID)
	assert.Equal(t, ids[1], short[1].ID)
	assert.Equal(t, int64(2), short[0].Version, "demotion is a versioned write")
}

func TestIngestFullQueueDegrades(t *testing.T) {
	emb := newFakeEmbedder()
	emb.started = make(chan struct{}, 8)
	emb.release = make(chan struct{})
	svc, st, _ := newTestService(t, emb, func(o *Options) {
		o.EmbedWorkers = 1
		o.EmbedQueueSize = 1
	})
	ctx := context.Background()

	first, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "first"})
	require.NoError(t, err)
	<-emb.started // the only worker is now busy

	queued, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "second"})
	require.NoError(t, err)
	dropped, err := svc.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "third"})
	require.NoError(t, err, "backpressure is not an error")

	f, err := st.Get(ctx, dropped)
	require.NoError(t, err)
	assert.True(t, f.Degraded())

	close(emb.release)
	assert.Equal(t, model.EmbeddingReady, waitEmbedded(t, st, first).EmbeddingStatus)
	assert.Equal(t, model.EmbeddingReady, waitEmbedded(t, st, queued).EmbeddingStatus)
}

func TestIngestEmbeddingFailureDegrades(t *testing.T) {
	emb := newFakeEmbedder()
	emb.err = errors.New("provider down")
	svc, st, _ := newTestService(t, emb, nil)

	id, err := svc.Ingest(context.Background(), IngestRequest{PersonaID: "p1", Content: "will fail"})
	require.NoError(t, err)

	f := waitEmbedded(t, st, id)
	assert.Equal(t, model.EmbeddingDegraded, f.EmbeddingStatus)

	emb.mu.Lock()
	defer emb.mu.Unlock()
	assert.Equal(t, 2, emb.calls, "retried up to the attempt limit")
}

func TestWriterCloseDrainsQueue(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	clock := &testClock{now: t0}
	emb := newFakeEmbedder()
	w := NewWriter(st, emb, testOptions(clock), zerolog.Nop(), nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := w.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "drain me"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, w.Close(ctx))

	for _, id := range ids {
		f, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.EmbeddingReady, f.EmbeddingStatus)
	}

	_, err := w.Ingest(ctx, IngestRequest{PersonaID: "p1", Content: "late"})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
