package memory

import (
	"math"
	"time"

	"github.com/rcliao/persona-memory/internal/model"
)

// ImportancePolicy recomputes a fragment's importance and emotional impact
// during consolidation. Implementations must be pure: the same fragment
// and clock give the same result, so repeated runs converge.
type ImportancePolicy interface {
	Recompute(f *model.Fragment, now time.Time) (importance, emotion float64)
}

// DecayBoostPolicy decays the creation-time importance toward 1 with a
// half-life measured from the last access, and adds a logarithmic boost
// for frequently recalled fragments.
//
//	importance = clamp(1 + (base-1)*2^(-idle/HalfLife) + AccessBoost*log2(1+accessCount), 1, 10)
type DecayBoostPolicy struct {
	HalfLife    time.Duration
	AccessBoost float64
}

// DefaultPolicy is a one-week half-life with a boost of 1 per doubling of
// accesses.
func DefaultPolicy() DecayBoostPolicy {
	return DecayBoostPolicy{HalfLife: 168 * time.Hour, AccessBoost: 1.0}
}

func (p DecayBoostPolicy) Recompute(f *model.Fragment, now time.Time) (float64, float64) {
	base := f.BaseImportance
	if base == 0 {
		base = f.Importance
	}

	since := f.Timestamp
	if f.LastAccessed != nil && f.LastAccessed.After(since) {
		since = *f.LastAccessed
	}
	idle := now.Sub(since)
	if idle < 0 {
		idle = 0
	}

	decay := 1.0
	if p.HalfLife > 0 {
		decay = math.Exp2(-float64(idle) / float64(p.HalfLife))
	}
	imp := 1 + (base-1)*decay + p.AccessBoost*math.Log2(1+float64(f.AccessCount))
	return clamp(imp, model.MinImportance, model.MaxImportance), f.EmotionalImpact
}

// StaticPolicy leaves importance and emotion as they are.
type StaticPolicy struct{}

func (StaticPolicy) Recompute(f *model.Fragment, _ time.Time) (float64, float64) {
	return f.Importance, f.EmotionalImpact
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
