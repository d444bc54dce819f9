package memory

import (
	"context"

	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/store"
)

// RelationshipScorer measures affinity between a query's context and a
// fragment, in [0,1]. Prepare runs once per query; a nil function scores
// every fragment 0.
type RelationshipScorer interface {
	Prepare(ctx context.Context, q Query) (func(f *model.Fragment) float64, error)
}

// DefaultRelWeights rate how strongly each link relation ties two fragments.
var DefaultRelWeights = map[string]float64{
	"relates_to":  1.0,
	"refines":     0.8,
	"depends_on":  0.6,
	"contradicts": 0.3,
}

// LinkScorer scores fragments linked to the query's RelatedTo fragments.
type LinkScorer struct {
	Store   store.Store
	Weights map[string]float64
}

func (s LinkScorer) Prepare(ctx context.Context, q Query) (func(f *model.Fragment) float64, error) {
	if len(q.RelatedTo) == 0 {
		return nil, nil
	}
	weights := s.Weights
	if weights == nil {
		weights = DefaultRelWeights
	}

	strength := make(map[string]float64)
	for _, id := range q.RelatedTo {
		links, err := s.Store.Links(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			other := l.ToID
			if other == id {
				other = l.FromID
			}
			if w := weights[l.Rel]; w > strength[other] {
				strength[other] = w
			}
		}
	}
	return func(f *model.Fragment) float64 { return strength[f.ID] }, nil
}

// UserAffinityScorer favours fragments from the user the query is about.
type UserAffinityScorer struct {
	Strength float64
}

func (s UserAffinityScorer) Prepare(ctx context.Context, q Query) (func(f *model.Fragment) float64, error) {
	if q.UserID == "" {
		return nil, nil
	}
	return func(f *model.Fragment) float64 {
		if f.UserID == q.UserID {
			return s.Strength
		}
		return 0
	}, nil
}

// MaxScorer takes the strongest signal of its members.
type MaxScorer []RelationshipScorer

func (m MaxScorer) Prepare(ctx context.Context, q Query) (func(f *model.Fragment) float64, error) {
	var fns []func(*model.Fragment) float64
	for _, s := range m {
		fn, err := s.Prepare(ctx, q)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	if len(fns) == 0 {
		return nil, nil
	}
	return func(f *model.Fragment) float64 {
		best := 0.0
		for _, fn := range fns {
			if v := fn(f); v > best {
				best = v
			}
		}
		if best > 1 {
			best = 1
		}
		return best
	}, nil
}

// DefaultRelationshipScorer combines link and same-user affinity.
func DefaultRelationshipScorer(st store.Store) RelationshipScorer {
	return MaxScorer{LinkScorer{Store: st}, UserAffinityScorer{Strength: 0.5}}
}
