package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rcliao/persona-memory/internal/embedding"
	"github.com/rcliao/persona-memory/internal/metrics"
	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/sparse"
	"github.com/rcliao/persona-memory/internal/store"
)

// IngestRequest is one conversational event to remember.
type IngestRequest struct {
	PersonaID string
	Content   string
	// Timestamp defaults to the engine clock.
	Timestamp time.Time
	Source    string
	Category  model.Category
	UserID    string
	// Importance defaults to 5 when zero.
	Importance      float64
	EmotionalImpact float64
}

func (r *IngestRequest) validate() error {
	if strings.TrimSpace(r.PersonaID) == "" {
		return fmt.Errorf("%w: persona id is required", model.ErrInvalidInput)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", model.ErrInvalidInput)
	}
	if r.Category == "" {
		r.Category = model.CategoryChat
	}
	if !model.ValidCategories[r.Category] {
		return fmt.Errorf("%w: unknown category %q", model.ErrInvalidInput, r.Category)
	}
	if r.Importance == 0 {
		r.Importance = model.DefaultImportance
	}
	if r.Importance < model.MinImportance || r.Importance > model.MaxImportance {
		return fmt.Errorf("%w: importance %.2f outside 1..10", model.ErrInvalidInput, r.Importance)
	}
	if r.EmotionalImpact < model.MinEmotion || r.EmotionalImpact > model.MaxEmotion {
		return fmt.Errorf("%w: emotional impact %.2f outside -10..10", model.ErrInvalidInput, r.EmotionalImpact)
	}
	// Fragment IDs are ULIDs, which only encode millisecond times from the
	// Unix epoch up to ulid.MaxTime.
	if !r.Timestamp.IsZero() && (r.Timestamp.Before(time.Unix(0, 0)) || r.Timestamp.After(ulid.Time(ulid.MaxTime()))) {
		return fmt.Errorf("%w: timestamp %s out of range", model.ErrInvalidInput, r.Timestamp.Format(time.RFC3339))
	}
	return nil
}

type embedJob struct {
	id        string
	personaID string
	content   string
}

// Writer ingests events. Fragments are persisted synchronously; dense
// embeddings are produced by a fixed pool of workers fed from a bounded
// queue.
type Writer struct {
	store    store.Store
	embedder embedding.Embedder
	opts     Options
	log      zerolog.Logger
	metrics  *metrics.Metrics
	locks    *personaLocks

	jobs   chan embedJob
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the embedding workers. A nil embedder flags every
// fragment degraded at ingestion.
func NewWriter(st store.Store, emb embedding.Embedder, opts Options, log zerolog.Logger, m *metrics.Metrics) *Writer {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		store:    st,
		embedder: emb,
		opts:     opts,
		log:      log,
		metrics:  m,
		locks:    newPersonaLocks(),
		jobs:     make(chan embedJob, opts.EmbedQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	if emb != nil {
		for i := 0; i < opts.EmbedWorkers; i++ {
			w.wg.Add(1)
			go w.worker()
		}
	}
	return w
}

// Ingest stores an event as a WORKING fragment and schedules its
// embedding. The fragment is retrievable once Ingest returns.
func (w *Writer) Ingest(ctx context.Context, req IngestRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "memory.Ingest")
	defer span.End()

	if err := req.validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("persona_id", req.PersonaID))

	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("ingest: %w: writer closed", model.ErrStoreUnavailable)
	}

	features, err := sparse.Analyze(req.Content)
	if err != nil {
		return "", fmt.Errorf("ingest: sparse features: %w", err)
	}

	if _, err := w.store.EnsurePersona(ctx, req.PersonaID, w.opts.Dimension); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.metrics.RecordIngest("failed")
		return "", fmt.Errorf("ingest: %w", err)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = w.opts.Now()
	}
	ts = ts.UTC()

	id, err := ulid.New(ulid.Timestamp(ts), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("ingest: %w: %v", model.ErrInvalidInput, err)
	}

	f := &model.Fragment{
		ID:              id.String(),
		PersonaID:       req.PersonaID,
		Content:         req.Content,
		EmbeddingStatus: model.EmbeddingPending,
		Sparse:          features.Terms,
		Entities:        features.Entities,
		Tier:            model.TierWorking,
		Category:        req.Category,
		Source:          req.Source,
		UserID:          req.UserID,
		Timestamp:       ts,
		Importance:      req.Importance,
		BaseImportance:  req.Importance,
		EmotionalImpact: req.EmotionalImpact,
	}
	if err := w.store.Upsert(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.metrics.RecordIngest("failed")
		return "", fmt.Errorf("ingest: %w", err)
	}
	span.SetAttributes(attribute.String("fragment_id", f.ID))

	w.enforceWorkingCapacity(ctx, req.PersonaID)

	status := w.enqueue(ctx, f)
	w.metrics.RecordIngest(status)
	w.log.Debug().
		Str("persona_id", f.PersonaID).
		Str("fragment_id", f.ID).
		Str("status", status).
		Msg("fragment ingested")

	return f.ID, nil
}

// enqueue hands the fragment to the embedding workers. It never blocks: a
// full queue, a closed writer or a missing embedder degrades the fragment
// instead.
func (w *Writer) enqueue(ctx context.Context, f *model.Fragment) string {
	if w.embedder == nil {
		w.degrade(ctx, f.ID, "no embedding provider")
		return "degraded"
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.degrade(ctx, f.ID, "writer closed")
		return "degraded"
	}
	select {
	case w.jobs <- embedJob{id: f.ID, personaID: f.PersonaID, content: f.Content}:
		w.metrics.SetQueueDepth(len(w.jobs))
		return "ok"
	default:
		w.degrade(ctx, f.ID, "embedding queue full")
		return "degraded"
	}
}

func (w *Writer) degrade(ctx context.Context, id, reason string) {
	if err := w.store.SetEmbedding(ctx, id, nil); err != nil {
		w.log.Warn().Err(err).Str("fragment_id", id).Msg("failed to flag fragment degraded")
		return
	}
	w.log.Warn().Str("fragment_id", id).Str("reason", reason).Msg("fragment degraded to sparse-only")
}

// enforceWorkingCapacity demotes the oldest WORKING fragments to
// SHORT_TERM until the tier is back within MaxWorking. Failures are logged;
// the next consolidation run migrates anything left behind.
func (w *Writer) enforceWorkingCapacity(ctx context.Context, personaID string) {
	lock := w.locks.get(personaID)
	lock.Lock()
	defer lock.Unlock()

	working, err := w.store.List(ctx, personaID, model.TierWorking)
	if err != nil {
		w.log.Warn().Err(err).Str("persona_id", personaID).Msg("working capacity check failed")
		return
	}
	excess := len(working) - w.opts.MaxWorking
	if excess <= 0 {
		return
	}

	sort.Slice(working, func(i, j int) bool {
		if !working[i].Timestamp.Equal(working[j].Timestamp) {
			return working[i].Timestamp.Before(working[j].Timestamp)
		}
		return working[i].ID < working[j].ID
	})
	for _, f := range working[:excess] {
		_, changed, err := updateFragment(ctx, w.store, f.ID, w.opts.CASAttempts, w.metrics, func(cur *model.Fragment) bool {
			if cur.Tier != model.TierWorking {
				return false
			}
			cur.Tier = model.TierShortTerm
			return true
		})
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				w.log.Warn().Err(err).Str("fragment_id", f.ID).Msg("working demotion failed")
			}
			continue
		}
		if changed {
			w.metrics.RecordWorkingDemotion()
			w.metrics.RecordMigration(model.TierWorking.String(), model.TierShortTerm.String())
		}
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.metrics.SetQueueDepth(len(w.jobs))
		w.process(job)
	}
}

func (w *Writer) process(job embedJob) {
	start := time.Now()
	log := w.log.With().Str("persona_id", job.personaID).Str("fragment_id", job.id).Logger()

	vec, err := embedding.EmbedChunked(w.ctx, w.embedder, job.content, w.opts.EmbedRetry, w.opts.Chunking)
	if err == nil {
		err = w.store.SetEmbedding(w.ctx, job.id, vec)
	}
	switch {
	case err == nil:
		w.metrics.RecordEmbedding("ready", time.Since(start))
		return
	case errors.Is(err, model.ErrNotFound):
		// deleted while queued
		w.metrics.RecordEmbedding("dropped", time.Since(start))
		return
	}

	log.Warn().Err(err).Msg("embedding failed, fragment stays sparse-only")
	w.metrics.RecordEmbedding("degraded", time.Since(start))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.SetEmbedding(ctx, job.id, nil); err != nil && !errors.Is(err, model.ErrNotFound) {
		log.Error().Err(err).Msg("failed to flag fragment degraded")
	}
}

// Pending returns the number of queued embedding jobs.
func (w *Writer) Pending() int {
	return len(w.jobs)
}

// Close stops intake and waits for queued embeddings to finish. If ctx
// expires first, in-flight embeddings are cancelled and their fragments
// are left degraded.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}
