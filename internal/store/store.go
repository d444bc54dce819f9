// Package store provides the fragment storage interface with SQLite and
// in-memory implementations.
package store

import (
	"context"
	"time"

	"github.com/rcliao/persona-memory/internal/model"
)

// ScoredFragment is a fragment returned by a vector scan with its cosine
// similarity to the query vector.
type ScoredFragment struct {
	Fragment   model.Fragment `json:"fragment"`
	Similarity float64        `json:"similarity"`
}

// Store defines the fragment storage interface.
//
// Upsert is the only way to change a fragment's tier, importance or
// emotional impact. A fragment with Version 0 is inserted; otherwise the
// write succeeds only if the stored version still equals f.Version, and the
// stored version is then incremented. Embedding and access fields are
// written through SetEmbedding and Touch, which do not take part in the
// version check.
type Store interface {
	// EnsurePersona creates the persona if missing and returns it. A
	// dimension of 0 leaves the dimension unset until the first vector.
	EnsurePersona(ctx context.Context, id string, dimension int) (*model.Persona, error)
	GetPersona(ctx context.Context, id string) (*model.Persona, error)
	ListPersonas(ctx context.Context) ([]model.Persona, error)

	Upsert(ctx context.Context, f *model.Fragment) error
	Get(ctx context.Context, id string) (*model.Fragment, error)

	// List returns a persona's fragments in the given tiers (all when
	// none are given), oldest first.
	List(ctx context.Context, personaID string, tiers ...model.Tier) ([]model.Fragment, error)

	// RangeByTime returns fragments with start <= timestamp <= end in
	// ascending timestamp order.
	RangeByTime(ctx context.Context, personaID string, start, end time.Time) ([]model.Fragment, error)

	TopByImportance(ctx context.Context, personaID string, limit int) ([]model.Fragment, error)

	// VectorScan returns fragments whose cosine similarity to vec is at
	// least threshold, most similar first.
	VectorScan(ctx context.Context, personaID string, vec []float32, threshold float64) ([]ScoredFragment, error)

	// SetEmbedding stores a fragment's dense vector and marks it ready. A
	// nil vector marks the fragment degraded.
	SetEmbedding(ctx context.Context, id string, vec []float32) error

	// Touch records a retrieval hit. Concurrent touches of the same
	// fragment may collapse; the version is not changed.
	Touch(ctx context.Context, ids []string, at time.Time) error

	Delete(ctx context.Context, id string) error

	Link(ctx context.Context, l model.Link) error
	Unlink(ctx context.Context, l model.Link) error
	Links(ctx context.Context, fragmentID string) ([]model.Link, error)

	Stats(ctx context.Context) (*Stats, error)

	// Close closes the store.
	Close() error
}
