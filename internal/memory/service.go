package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/persona-memory/internal/embedding"
	"github.com/rcliao/persona-memory/internal/metrics"
	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/store"
)

// Service wires the writer, retriever, scheduler and reconstructor over a
// single store. The store is owned by the caller and is not closed by
// Close.
type Service struct {
	store         store.Store
	opts          Options
	log           zerolog.Logger
	access        *accessRecorder
	writer        *Writer
	retriever     *Retriever
	scheduler     *Scheduler
	reconstructor *Reconstructor
}

// NewService builds every component. emb may be nil, in which case the
// service runs sparse-only.
func NewService(st store.Store, emb embedding.Embedder, opts Options, log zerolog.Logger, m *metrics.Metrics) (*Service, error) {
	opts = opts.withDefaults()
	sched, err := NewScheduler(st, opts, log.With().Str("component", "scheduler").Logger(), m)
	if err != nil {
		return nil, err
	}
	access := newAccessRecorder(st, log, m, opts.Now)
	return &Service{
		store:         st,
		opts:          opts,
		log:           log,
		access:        access,
		writer:        NewWriter(st, emb, opts, log.With().Str("component", "writer").Logger(), m),
		retriever:     NewRetriever(st, emb, opts, log.With().Str("component", "retriever").Logger(), m, access),
		scheduler:     sched,
		reconstructor: NewReconstructor(st, opts, log.With().Str("component", "reconstructor").Logger(), access),
	}, nil
}

func (s *Service) Ingest(ctx context.Context, req IngestRequest) (string, error) {
	return s.writer.Ingest(ctx, req)
}

func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	return s.retriever.Search(ctx, q)
}

func (s *Service) Reconstruct(ctx context.Context, centerID string, window time.Duration) ([]model.Fragment, error) {
	return s.reconstructor.Reconstruct(ctx, centerID, window)
}

// Consolidate runs one consolidation pass over a single persona now.
func (s *Service) Consolidate(ctx context.Context, personaID string) (*RunReport, error) {
	if _, err := s.store.GetPersona(ctx, personaID); err != nil {
		return nil, fmt.Errorf("consolidate: %w", err)
	}
	return s.scheduler.RunPersona(ctx, personaID)
}

// ConsolidateAll runs one consolidation pass over every persona now.
func (s *Service) ConsolidateAll(ctx context.Context) ([]RunReport, error) {
	return s.scheduler.RunAll(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*model.Fragment, error) {
	return s.store.Get(ctx, id)
}

// List returns a persona's fragments, oldest first, optionally restricted
// to tiers.
func (s *Service) List(ctx context.Context, personaID string, tiers ...model.Tier) ([]model.Fragment, error) {
	if _, err := s.store.GetPersona(ctx, personaID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, personaID, tiers...)
}

// Top returns the persona's most important fragments.
func (s *Service) Top(ctx context.Context, personaID string, limit int) ([]model.Fragment, error) {
	if _, err := s.store.GetPersona(ctx, personaID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	return s.store.TopByImportance(ctx, personaID, limit)
}

// Related returns fragments whose embedding is close to the given
// fragment's, excluding the fragment itself.
func (s *Service) Related(ctx context.Context, id string, threshold float64, limit int) ([]store.ScoredFragment, error) {
	f, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.EmbeddingStatus != model.EmbeddingReady || len(f.Embedding) == 0 {
		return nil, fmt.Errorf("related %s: %w: fragment has no embedding (%s)", id, model.ErrEmbeddingUnavailable, f.EmbeddingStatus)
	}
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}

	scored, err := s.store.VectorScan(ctx, f.PersonaID, f.Embedding, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]store.ScoredFragment, 0, limit)
	for _, sf := range scored {
		if sf.Fragment.ID == id {
			continue
		}
		out = append(out, sf)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *Service) Link(ctx context.Context, l model.Link) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.opts.Now().UTC()
	}
	return s.store.Link(ctx, l)
}

func (s *Service) Unlink(ctx context.Context, l model.Link) error {
	return s.store.Unlink(ctx, l)
}

func (s *Service) Links(ctx context.Context, id string) ([]model.Link, error) {
	return s.store.Links(ctx, id)
}

// Export dumps all personas, or one when personaID is set.
func (s *Service) Export(ctx context.Context, personaID string) (*store.Export, error) {
	return store.ExportAll(ctx, s.store, personaID)
}

func (s *Service) Import(ctx context.Context, e *store.Export) (int, error) {
	return store.Import(ctx, s.store, e)
}

func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) Personas(ctx context.Context) ([]model.Persona, error) {
	return s.store.ListPersonas(ctx)
}

// PendingEmbeddings reports the embedding queue depth.
func (s *Service) PendingEmbeddings() int {
	return s.writer.Pending()
}

// Start runs the consolidation scheduler in the background.
func (s *Service) Start(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

// WaitIdle blocks until queued access updates have been written.
func (s *Service) WaitIdle() {
	s.access.Wait()
}

// Close stops the scheduler, drains the embedding queue and waits for
// access updates. Fragments still queued when ctx expires stay degraded.
func (s *Service) Close(ctx context.Context) error {
	s.scheduler.Stop()
	err := s.writer.Close(ctx)
	s.access.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Msg("embedding queue not drained")
	}
	return err
}
