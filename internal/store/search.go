package store

import (
	"context"
	"fmt"

	"github.com/rcliao/persona-memory/internal/embedding"
	"github.com/rcliao/persona-memory/internal/model"
)

// VectorScan compares vec against every embedded fragment of the persona.
// Similarity is computed in Go; SQLite only narrows the candidate rows.
func (s *SQLiteStore) VectorScan(ctx context.Context, personaID string, vec []float32, threshold float64) ([]ScoredFragment, error) {
	p, err := s.GetPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if p.Dimension != 0 && len(vec) != p.Dimension {
		return nil, fmt.Errorf("vector scan: %w: want %d dims, got %d", model.ErrDimensionMismatch, p.Dimension, len(vec))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fragmentColumns+` FROM fragments
		 WHERE persona_id = ? AND embedding IS NOT NULL AND embedding_status = ?`,
		personaID, string(model.EmbeddingReady))
	if err != nil {
		return nil, unavailable("vector scan", err)
	}
	frags, err := collectFragments(rows)
	if err != nil {
		return nil, unavailable("vector scan", err)
	}

	var results []ScoredFragment
	for _, f := range frags {
		sim := embedding.CosineSimilarity(vec, f.Embedding)
		if sim < threshold {
			continue
		}
		results = append(results, ScoredFragment{Fragment: f, Similarity: sim})
	}
	sortScored(results)
	return results, nil
}
