// Package config loads persona-memory settings from file, environment and defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the full persona-memory configuration.
type Config struct {
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
}

// MemoryConfig tunes the tiered store.
type MemoryConfig struct {
	EmbeddingDimension                 int           `json:"embedding_dimension" mapstructure:"embedding_dimension"`
	MaxWorkingMemory                   int           `json:"max_working_memory" mapstructure:"max_working_memory"`
	ConsolidationIntervalSeconds       int           `json:"consolidation_interval_seconds" mapstructure:"consolidation_interval_seconds"`
	ConsolidationSchedule              string        `json:"consolidation_schedule" mapstructure:"consolidation_schedule"`
	ConsolidationConcurrency           int           `json:"consolidation_concurrency" mapstructure:"consolidation_concurrency"`
	ImportanceThreshold                float64       `json:"importance_threshold" mapstructure:"importance_threshold"`
	EarlyPromotion                     bool          `json:"early_promotion" mapstructure:"early_promotion"`
	SimilarityThreshold                float64       `json:"similarity_threshold" mapstructure:"similarity_threshold"`
	FusionWeights                      FusionWeights `json:"fusion_weights" mapstructure:"fusion_weights"`
	MaxLongTermPerPersona              int           `json:"max_long_term_per_persona" mapstructure:"max_long_term_per_persona"`
	WorkingWindowMinutes               int           `json:"working_window_minutes" mapstructure:"working_window_minutes"`
	ShortTermWindowMinutes             int           `json:"short_term_window_minutes" mapstructure:"short_term_window_minutes"`
	ContextReconstructionWindowMinutes int           `json:"context_reconstruction_window_minutes" mapstructure:"context_reconstruction_window_minutes"`
	ImportanceHalfLifeHours            float64       `json:"importance_half_life_hours" mapstructure:"importance_half_life_hours"`
	AccessBoost                        float64       `json:"access_boost" mapstructure:"access_boost"`
}

// FusionWeights blend dense similarity and sparse overlap.
type FusionWeights struct {
	Dense  float64 `json:"dense" mapstructure:"dense"`
	Sparse float64 `json:"sparse" mapstructure:"sparse"`
}

// EmbeddingConfig selects the provider and sizes the worker pool.
type EmbeddingConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"`
	Model          string        `json:"model" mapstructure:"model"`
	BaseURL        string        `json:"base_url" mapstructure:"base_url"`
	APIKey         string        `json:"-" mapstructure:"api_key"`
	Workers        int           `json:"workers" mapstructure:"workers"`
	QueueSize      int           `json:"queue_size" mapstructure:"queue_size"`
	MaxAttempts    int           `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff" mapstructure:"initial_backoff"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	CacheSize      int64         `json:"cache_size" mapstructure:"cache_size"`
}

// StoreConfig picks the backend.
type StoreConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // sqlite | memory
	Path    string `json:"path" mapstructure:"path"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			MaxWorkingMemory:                   10,
			ConsolidationIntervalSeconds:       300,
			ConsolidationConcurrency:           4,
			ImportanceThreshold:                5.0,
			SimilarityThreshold:                0.5,
			FusionWeights:                      FusionWeights{Dense: 0.7, Sparse: 0.3},
			MaxLongTermPerPersona:              10000,
			WorkingWindowMinutes:               15,
			ShortTermWindowMinutes:             60,
			ContextReconstructionWindowMinutes: 30,
			ImportanceHalfLifeHours:            168,
			AccessBoost:                        1.0,
		},
		Embedding: EmbeddingConfig{
			Workers:        4,
			QueueSize:      256,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			Timeout:        30 * time.Second,
			CacheSize:      10000,
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	m := c.Memory

	if m.EmbeddingDimension < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimension must be >= 0"))
	}
	if m.MaxWorkingMemory < 1 {
		errs = append(errs, fmt.Errorf("memory.max_working_memory must be >= 1"))
	}
	if m.ConsolidationSchedule == "" && m.ConsolidationIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("memory.consolidation_interval_seconds must be >= 1"))
	}
	if m.ConsolidationSchedule != "" {
		if _, err := cron.ParseStandard(m.ConsolidationSchedule); err != nil {
			errs = append(errs, fmt.Errorf("memory.consolidation_schedule: %w", err))
		}
	}
	if m.ConsolidationConcurrency < 1 {
		errs = append(errs, fmt.Errorf("memory.consolidation_concurrency must be >= 1"))
	}
	if m.ImportanceThreshold < 1 || m.ImportanceThreshold > 10 {
		errs = append(errs, fmt.Errorf("memory.importance_threshold must be within 1..10"))
	}
	if m.SimilarityThreshold < 0 || m.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory.similarity_threshold must be within 0..1"))
	}
	if m.FusionWeights.Dense < 0 || m.FusionWeights.Sparse < 0 || m.FusionWeights.Dense+m.FusionWeights.Sparse == 0 {
		errs = append(errs, fmt.Errorf("memory.fusion_weights must be non-negative and not both zero"))
	}
	if m.MaxLongTermPerPersona < 1 {
		errs = append(errs, fmt.Errorf("memory.max_long_term_per_persona must be >= 1"))
	}
	if m.WorkingWindowMinutes < 0 || m.ShortTermWindowMinutes < 0 || m.ContextReconstructionWindowMinutes < 1 {
		errs = append(errs, fmt.Errorf("memory window minutes must be positive"))
	}
	if m.ImportanceHalfLifeHours <= 0 {
		errs = append(errs, fmt.Errorf("memory.importance_half_life_hours must be > 0"))
	}

	e := c.Embedding
	switch e.Provider {
	case "", "ollama", "openai", "hash":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is invalid (must be: ollama, openai, hash)", e.Provider))
	}
	if e.Workers < 1 || e.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("embedding.workers and embedding.queue_size must be >= 1"))
	}
	if e.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("embedding.max_attempts must be >= 1"))
	}

	switch c.Store.Backend {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid (must be: sqlite, memory)", c.Store.Backend))
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func parseLevel(level string) (string, error) {
	switch level {
	case "", "debug", "info", "warn", "error":
		return level, nil
	}
	return "", fmt.Errorf("logging.level %q is invalid (must be: debug, info, warn, error)", level)
}
