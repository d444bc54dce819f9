package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rcliao/persona-memory/internal/model"
)

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// checkUpdate validates a versioned state write against the stored copy.
func checkUpdate(stored *model.Fragment, f *model.Fragment) error {
	if stored.Version != f.Version {
		return fmt.Errorf("upsert %s: expected version %d, found %d: %w",
			f.ID, f.Version, stored.Version, model.ErrVersionConflict)
	}
	if f.Tier < stored.Tier {
		return fmt.Errorf("upsert %s: %s -> %s: %w", f.ID, stored.Tier, f.Tier, model.ErrTierRegression)
	}
	if !f.Tier.Valid() {
		return fmt.Errorf("upsert %s: %w: tier %d", f.ID, model.ErrInvalidInput, int(f.Tier))
	}
	return nil
}

// checkDimension returns the persona dimension to use after storing vec.
func checkDimension(p *model.Persona, vec []float32) (int, error) {
	if vec == nil || p.Dimension == len(vec) {
		return p.Dimension, nil
	}
	if p.Dimension == 0 {
		return len(vec), nil
	}
	return 0, fmt.Errorf("persona %s expects %d dims, got %d: %w",
		p.ID, p.Dimension, len(vec), model.ErrDimensionMismatch)
}

func sortScored(results []ScoredFragment) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Fragment.ID < results[j].Fragment.ID
	})
}

// unavailable wraps a backend failure. Cancellation is passed through
// untouched so callers can tell it apart from an outage.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}
