package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/persona-memory/internal/config"
	"github.com/rcliao/persona-memory/internal/embedding"
	"github.com/rcliao/persona-memory/internal/memory"
	"github.com/rcliao/persona-memory/internal/model"
)

func memoryOptions(cfg *config.Config) memory.Options {
	m, e := cfg.Memory, cfg.Embedding
	opts := memory.DefaultOptions()

	opts.Dimension = m.EmbeddingDimension
	opts.MaxWorking = m.MaxWorkingMemory
	opts.WorkingWindow = time.Duration(m.WorkingWindowMinutes) * time.Minute
	opts.ShortTermWindow = time.Duration(m.ShortTermWindowMinutes) * time.Minute
	opts.MaxLongTerm = m.MaxLongTermPerPersona
	opts.ImportanceThreshold = m.ImportanceThreshold
	opts.EarlyPromotion = m.EarlyPromotion
	opts.SimilarityThreshold = m.SimilarityThreshold
	opts.DenseWeight = m.FusionWeights.Dense
	opts.SparseWeight = m.FusionWeights.Sparse
	opts.ContextWindow = time.Duration(m.ContextReconstructionWindowMinutes) * time.Minute

	opts.EmbedWorkers = e.Workers
	opts.EmbedQueueSize = e.QueueSize
	opts.EmbedRetry.MaxAttempts = uint(e.MaxAttempts)
	opts.EmbedRetry.InitialBackoff = e.InitialBackoff
	opts.EmbedRetry.Timeout = e.Timeout

	opts.ConsolidationInterval = time.Duration(m.ConsolidationIntervalSeconds) * time.Second
	opts.ConsolidationSchedule = m.ConsolidationSchedule
	opts.ConsolidationConcurrency = m.ConsolidationConcurrency
	opts.Policy = memory.DecayBoostPolicy{
		HalfLife:    time.Duration(m.ImportanceHalfLifeHours * float64(time.Hour)),
		AccessBoost: m.AccessBoost,
	}
	return opts
}

func embeddingConfig(cfg *config.Config) embedding.Config {
	e := cfg.Embedding
	return embedding.Config{
		Provider:  e.Provider,
		Model:     e.Model,
		BaseURL:   e.BaseURL,
		APIKey:    e.APIKey,
		Dimension: cfg.Memory.EmbeddingDimension,
		Timeout:   e.Timeout,
		CacheSize: e.CacheSize,
	}
}

func parseTiers(names []string) ([]model.Tier, error) {
	var tiers []model.Tier
	for _, n := range names {
		t, err := model.ParseTier(n)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", n, err)
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

func parseCategories(names []string) ([]model.Category, error) {
	var cats []model.Category
	for _, n := range names {
		c := model.Category(strings.ToUpper(n))
		if !model.ValidCategories[c] {
			return nil, fmt.Errorf("unknown category %q (valid: CHAT, ACTION, EVENT, RELATIONSHIP, CONTEXT)", n)
		}
		cats = append(cats, c)
	}
	return cats, nil
}
