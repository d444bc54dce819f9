package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rcliao/persona-memory/internal/embedding"
	"github.com/rcliao/persona-memory/internal/metrics"
	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/sparse"
	"github.com/rcliao/persona-memory/internal/store"
)

// Query is a recall request against one persona.
type Query struct {
	PersonaID string
	// Text and Vector are alternatives; at least one is required. Text
	// also drives sparse matching when both are given.
	Text   string
	Vector []float32
	// Tiers restricts the search; empty means all tiers.
	Tiers      []model.Tier
	Categories []model.Category
	Since      time.Time
	Until      time.Time
	// UserID and RelatedTo feed the relationship signal. They rank, they
	// do not filter.
	UserID    string
	RelatedTo []string
	// Limit defaults to 10 when zero.
	Limit int
}

// Result is a ranked fragment with its score breakdown.
type Result struct {
	Fragment  model.Fragment `json:"fragment"`
	Score     float64        `json:"score"`
	Breakdown Breakdown      `json:"breakdown"`
}

// Retriever answers hybrid dense/sparse queries.
type Retriever struct {
	store        store.Store
	embedder     embedding.Embedder
	opts         Options
	log          zerolog.Logger
	metrics      *metrics.Metrics
	access       *accessRecorder
	relationship RelationshipScorer
}

// NewRetriever creates a retriever. A nil embedder makes every text query
// sparse-only.
func NewRetriever(st store.Store, emb embedding.Embedder, opts Options, log zerolog.Logger, m *metrics.Metrics, access *accessRecorder) *Retriever {
	opts = opts.withDefaults()
	rel := opts.Relationship
	if rel == nil {
		rel = DefaultRelationshipScorer(st)
	}
	if access == nil {
		access = newAccessRecorder(st, log, m, opts.Now)
	}
	return &Retriever{
		store:        st,
		embedder:     emb,
		opts:         opts,
		log:          log,
		metrics:      m,
		access:       access,
		relationship: rel,
	}
}

func (r *Retriever) validate(q *Query) error {
	if strings.TrimSpace(q.PersonaID) == "" {
		return fmt.Errorf("%w: persona id is required", model.ErrInvalidQuery)
	}
	if strings.TrimSpace(q.Text) == "" && len(q.Vector) == 0 {
		return fmt.Errorf("%w: text or vector is required", model.ErrInvalidQuery)
	}
	if q.Limit < 0 || q.Limit > r.opts.MaxLimit {
		return fmt.Errorf("%w: limit %d outside 0..%d", model.ErrInvalidQuery, q.Limit, r.opts.MaxLimit)
	}
	if q.Limit == 0 {
		q.Limit = r.opts.DefaultLimit
	}
	for _, t := range q.Tiers {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown tier %d", model.ErrInvalidQuery, int(t))
		}
	}
	for _, c := range q.Categories {
		if !model.ValidCategories[c] {
			return fmt.Errorf("%w: unknown category %q", model.ErrInvalidQuery, c)
		}
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Since.After(q.Until) {
		return fmt.Errorf("%w: since is after until", model.ErrInvalidQuery)
	}
	return nil
}

// Search ranks a persona's fragments against q. If the query cannot be
// embedded the search continues on sparse features alone.
func (r *Retriever) Search(ctx context.Context, q Query) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "memory.Search")
	defer span.End()
	start := time.Now()

	if err := r.validate(&q); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("persona_id", q.PersonaID), attribute.Int("limit", q.Limit))

	persona, err := r.store.GetPersona(ctx, q.PersonaID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(q.Vector) > 0 && persona.Dimension != 0 && len(q.Vector) != persona.Dimension {
		return nil, fmt.Errorf("%w: vector has %d dims, persona %s uses %d",
			model.ErrInvalidQuery, len(q.Vector), persona.ID, persona.Dimension)
	}

	var queryTerms map[string]float64
	if strings.TrimSpace(q.Text) != "" {
		features, err := sparse.Analyze(q.Text)
		if err != nil {
			return nil, fmt.Errorf("search: sparse features: %w", err)
		}
		queryTerms = features.Terms
	}

	qvec := r.queryVector(ctx, q, persona)
	mode := "hybrid"
	if qvec == nil {
		mode = "sparse_only"
	}
	span.SetAttributes(attribute.String("mode", mode))

	candidates, err := r.store.List(ctx, q.PersonaID, q.Tiers...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("search: %w", err)
	}

	relFn, err := r.relationship.Prepare(ctx, q)
	if err != nil {
		r.log.Warn().Err(err).Str("persona_id", q.PersonaID).Msg("relationship scoring unavailable")
		relFn = nil
	}

	// A signal the query cannot produce hands its weight to the other.
	wd, ws := r.opts.DenseWeight, r.opts.SparseWeight
	switch {
	case qvec == nil:
		wd, ws = 0, 1
	case len(queryTerms) == 0:
		wd, ws = 1, 0
	}

	now := r.opts.Now()
	results := make([]Result, 0, len(candidates))
	for i := range candidates {
		f := &candidates[i]
		if !matchesFilters(f, q) {
			continue
		}

		var sim float64
		if qvec != nil && f.EmbeddingStatus == model.EmbeddingReady {
			sim = embedding.CosineSimilarity(qvec, f.Embedding)
		}
		overlap := sparse.Overlap(queryTerms, f.Sparse)
		fused := FuseRelevance(sim, overlap, wd, ws)
		entity := sparse.ExactEntityMatch(queryTerms, f.Entities)
		if fused < r.opts.SimilarityThreshold && !entity {
			continue
		}

		var rel float64
		if relFn != nil {
			rel = relFn(f)
		}
		b := score(f, sim, overlap, fused, rel, now)
		b.EntityMatch = entity
		results = append(results, Result{Fragment: *f, Score: b.FinalScore, Breakdown: b})
	}

	sortResults(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.Fragment.ID
	}
	r.access.record(ids)

	r.metrics.RecordSearch(mode, time.Since(start), len(results))
	r.log.Debug().
		Str("persona_id", q.PersonaID).
		Str("mode", mode).
		Int("candidates", len(candidates)).
		Int("results", len(results)).
		Dur("elapsed", time.Since(start)).
		Msg("search complete")

	return results, nil
}

// queryVector returns the dense query vector, or nil when the search must
// fall back to sparse features.
func (r *Retriever) queryVector(ctx context.Context, q Query, persona *model.Persona) []float32 {
	if len(q.Vector) > 0 {
		return q.Vector
	}
	if r.embedder == nil {
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, r.opts.QueryEmbedTimeout)
	defer cancel()
	vec, err := r.embedder.Embed(ectx, q.Text)
	if err != nil {
		r.log.Warn().Err(err).Str("persona_id", q.PersonaID).Msg("query embedding failed, searching sparse-only")
		return nil
	}
	if persona.Dimension != 0 && len(vec) != persona.Dimension {
		r.log.Warn().
			Int("got", len(vec)).
			Int("want", persona.Dimension).
			Str("persona_id", q.PersonaID).
			Msg("query embedding dimension mismatch, searching sparse-only")
		return nil
	}
	return vec
}

func matchesFilters(f *model.Fragment, q Query) bool {
	if len(q.Categories) > 0 {
		ok := false
		for _, c := range q.Categories {
			if f.Category == c {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !q.Since.IsZero() && f.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && f.Timestamp.After(q.Until) {
		return false
	}
	return true
}
