// Package memory implements the tiered persona memory engine: ingestion,
// hybrid retrieval, background consolidation and context reconstruction.
package memory

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"

	"github.com/rcliao/persona-memory/internal/chunker"
	"github.com/rcliao/persona-memory/internal/embedding"
)

var tracer = otel.Tracer("github.com/rcliao/persona-memory/internal/memory")

// Options tunes every engine component. Zero fields take the defaults
// from DefaultOptions, except SimilarityThreshold where zero means "keep
// everything".
type Options struct {
	// Dimension fixes the embedding size of new personas. Zero adopts the
	// size of the first stored vector.
	Dimension int

	MaxWorking      int
	WorkingWindow   time.Duration
	ShortTermWindow time.Duration
	MaxLongTerm     int

	// ImportanceThreshold promotes SHORT_TERM fragments before
	// ShortTermWindow elapses, only when EarlyPromotion is set.
	ImportanceThreshold float64
	EarlyPromotion      bool
	SimilarityThreshold float64
	DenseWeight         float64
	SparseWeight        float64

	DefaultLimit      int
	MaxLimit          int
	QueryEmbedTimeout time.Duration
	ContextWindow     time.Duration

	EmbedWorkers   int
	EmbedQueueSize int
	EmbedRetry     embedding.RetryPolicy
	Chunking       chunker.Options

	ConsolidationInterval    time.Duration
	ConsolidationSchedule    string
	ConsolidationConcurrency int
	// Schedule, when set, overrides ConsolidationInterval and
	// ConsolidationSchedule.
	Schedule    cron.Schedule
	CASAttempts int

	Policy       ImportancePolicy
	Relationship RelationshipScorer

	// Now is the engine clock.
	Now func() time.Time
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxWorking:               10,
		WorkingWindow:            15 * time.Minute,
		ShortTermWindow:          60 * time.Minute,
		MaxLongTerm:              10000,
		ImportanceThreshold:      5.0,
		SimilarityThreshold:      0.5,
		DenseWeight:              0.7,
		SparseWeight:             0.3,
		DefaultLimit:             10,
		MaxLimit:                 1000,
		QueryEmbedTimeout:        5 * time.Second,
		ContextWindow:            30 * time.Minute,
		EmbedWorkers:             4,
		EmbedQueueSize:           256,
		EmbedRetry:               embedding.DefaultRetryPolicy(),
		Chunking:                 chunker.DefaultOptions(),
		ConsolidationInterval:    300 * time.Second,
		ConsolidationConcurrency: 4,
		CASAttempts:              3,
		Policy:                   DefaultPolicy(),
		Now:                      time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWorking <= 0 {
		o.MaxWorking = d.MaxWorking
	}
	if o.WorkingWindow <= 0 {
		o.WorkingWindow = d.WorkingWindow
	}
	if o.ShortTermWindow <= 0 {
		o.ShortTermWindow = d.ShortTermWindow
	}
	if o.MaxLongTerm <= 0 {
		o.MaxLongTerm = d.MaxLongTerm
	}
	if o.ImportanceThreshold <= 0 {
		o.ImportanceThreshold = d.ImportanceThreshold
	}
	if o.SimilarityThreshold < 0 {
		o.SimilarityThreshold = d.SimilarityThreshold
	}
	if o.DenseWeight == 0 && o.SparseWeight == 0 {
		o.DenseWeight, o.SparseWeight = d.DenseWeight, d.SparseWeight
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = d.DefaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = d.MaxLimit
	}
	if o.QueryEmbedTimeout <= 0 {
		o.QueryEmbedTimeout = d.QueryEmbedTimeout
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = d.ContextWindow
	}
	if o.EmbedWorkers <= 0 {
		o.EmbedWorkers = d.EmbedWorkers
	}
	if o.EmbedQueueSize <= 0 {
		o.EmbedQueueSize = d.EmbedQueueSize
	}
	if o.EmbedRetry.MaxAttempts == 0 {
		o.EmbedRetry = d.EmbedRetry
	}
	if o.Chunking.TargetSize == 0 {
		o.Chunking = d.Chunking
	}
	if o.ConsolidationInterval <= 0 {
		o.ConsolidationInterval = d.ConsolidationInterval
	}
	if o.ConsolidationConcurrency <= 0 {
		o.ConsolidationConcurrency = d.ConsolidationConcurrency
	}
	if o.CASAttempts <= 0 {
		o.CASAttempts = d.CASAttempts
	}
	if o.Policy == nil {
		o.Policy = d.Policy
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}
