package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PERSONA_MEMORY_MEMORY_MAX_WORKING_MEMORY=20.
const EnvPrefix = "PERSONA_MEMORY"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path means the default
// location, which is optional.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// DefaultDir is the data directory used when none is configured.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".persona-memory")
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads defaults, then the config file, then environment overrides.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("embedding.api_key", EnvPrefix+"_EMBEDDING_API_KEY", "OPENAI_API_KEY")

	configPath := l.GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if l.configPath != "" {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(DefaultDir(), "memory.db")
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	m := d.Memory
	v.SetDefault("memory.embedding_dimension", m.EmbeddingDimension)
	v.SetDefault("memory.max_working_memory", m.MaxWorkingMemory)
	v.SetDefault("memory.consolidation_interval_seconds", m.ConsolidationIntervalSeconds)
	v.SetDefault("memory.consolidation_schedule", m.ConsolidationSchedule)
	v.SetDefault("memory.consolidation_concurrency", m.ConsolidationConcurrency)
	v.SetDefault("memory.importance_threshold", m.ImportanceThreshold)
	v.SetDefault("memory.early_promotion", m.EarlyPromotion)
	v.SetDefault("memory.similarity_threshold", m.SimilarityThreshold)
	v.SetDefault("memory.fusion_weights.dense", m.FusionWeights.Dense)
	v.SetDefault("memory.fusion_weights.sparse", m.FusionWeights.Sparse)
	v.SetDefault("memory.max_long_term_per_persona", m.MaxLongTermPerPersona)
	v.SetDefault("memory.working_window_minutes", m.WorkingWindowMinutes)
	v.SetDefault("memory.short_term_window_minutes", m.ShortTermWindowMinutes)
	v.SetDefault("memory.context_reconstruction_window_minutes", m.ContextReconstructionWindowMinutes)
	v.SetDefault("memory.importance_half_life_hours", m.ImportanceHalfLifeHours)
	v.SetDefault("memory.access_boost", m.AccessBoost)

	e := d.Embedding
	v.SetDefault("embedding.provider", e.Provider)
	v.SetDefault("embedding.model", e.Model)
	v.SetDefault("embedding.base_url", e.BaseURL)
	v.SetDefault("embedding.api_key", e.APIKey)
	v.SetDefault("embedding.workers", e.Workers)
	v.SetDefault("embedding.queue_size", e.QueueSize)
	v.SetDefault("embedding.max_attempts", e.MaxAttempts)
	v.SetDefault("embedding.initial_backoff", e.InitialBackoff)
	v.SetDefault("embedding.timeout", e.Timeout)
	v.SetDefault("embedding.cache_size", e.CacheSize)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.pretty", d.Logging.Pretty)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
