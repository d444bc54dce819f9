package memory

import (
	"math"
	"sort"
	"time"

	"github.com/rcliao/persona-memory/internal/model"
)

const (
	recencyHorizonDays = 30.0
	accessSaturation   = 100.0

	weightRelevance    = 1.2
	weightTime         = 0.2
	weightImportance   = 0.1
	weightAccess       = 0.1
	weightRelationship = 0.1
)

// Breakdown exposes every term of a result's score.
//
// FusedRelevance blends Similarity and SparseOverlap with the configured
// dense and sparse weights. When a query has no vector the sparse weight
// becomes 1, and when it has no terms the dense weight becomes 1, so scores
// from a sparse-only search are not directly comparable with hybrid ones.
type Breakdown struct {
	Similarity           float64 `json:"similarity"`
	SparseOverlap        float64 `json:"sparse_overlap"`
	FusedRelevance       float64 `json:"fused_relevance"`
	EntityMatch          bool    `json:"entity_match,omitempty"`
	TimeRelevance        float64 `json:"time_relevance"`
	ImportanceNorm       float64 `json:"importance_norm"`
	AccessFrequencyNorm  float64 `json:"access_frequency_norm"`
	RelationshipStrength float64 `json:"relationship_strength"`
	BaseScore            float64 `json:"base_score"`
	EmotionalFactor      float64 `json:"emotional_factor"`
	FinalScore           float64 `json:"final_score"`
}

// TimeRelevance decays linearly from 1 at age zero to 0 at 30 days.
// Timestamps in the future count as age zero.
func TimeRelevance(ts, now time.Time) float64 {
	days := now.Sub(ts).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Max(0, 1-days/recencyHorizonDays)
}

// FuseRelevance blends dense similarity and sparse overlap.
func FuseRelevance(similarity, overlap, denseWeight, sparseWeight float64) float64 {
	return denseWeight*similarity + sparseWeight*overlap
}

// score computes the full breakdown for one fragment.
func score(f *model.Fragment, similarity, overlap, fused, relationship float64, now time.Time) Breakdown {
	b := Breakdown{
		Similarity:           similarity,
		SparseOverlap:        overlap,
		FusedRelevance:       fused,
		TimeRelevance:        TimeRelevance(f.Timestamp, now),
		ImportanceNorm:       f.Importance / model.MaxImportance,
		AccessFrequencyNorm:  math.Min(1, float64(f.AccessCount)/accessSaturation),
		RelationshipStrength: relationship,
		EmotionalFactor:      1 + f.EmotionalImpact/10,
	}
	b.BaseScore = weightRelevance*b.FusedRelevance +
		weightTime*b.TimeRelevance +
		weightImportance*b.ImportanceNorm +
		weightAccess*b.AccessFrequencyNorm +
		weightRelationship*b.RelationshipStrength
	b.FinalScore = b.BaseScore * b.EmotionalFactor
	return b
}

// sortResults orders by final score, then newer first, then id.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Fragment.Timestamp.Equal(b.Fragment.Timestamp) {
			return a.Fragment.Timestamp.After(b.Fragment.Timestamp)
		}
		return a.Fragment.ID < b.Fragment.ID
	})
}
