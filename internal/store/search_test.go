package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rcliao/persona-memory/internal/model"
)

func TestVectorScan(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		vecs := map[string][]float32{
			"same":  {1, 0, 0},
			"close": {1, 1, 0},
			"far":   {0, 1, 0},
		}
		for id, v := range vecs {
			mustInsert(t, s, newFragment(id, "p1", epoch))
			if err := s.SetEmbedding(ctx, id, v); err != nil {
				t.Fatalf("set embedding %s: %v", id, err)
			}
		}
		mustInsert(t, s, newFragment("degraded", "p1", epoch))
		s.SetEmbedding(ctx, "degraded", nil)

		got, err := s.VectorScan(ctx, "p1", []float32{1, 0, 0}, 0.5)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 results above threshold, got %d", len(got))
		}
		if got[0].Fragment.ID != "same" || got[1].Fragment.ID != "close" {
			t.Errorf("unexpected order: %s, %s", got[0].Fragment.ID, got[1].Fragment.ID)
		}
		if got[0].Similarity < 0.999 {
			t.Errorf("identical vector similarity: %f", got[0].Similarity)
		}
	})
}

func TestVectorScanErrors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.VectorScan(ctx, "ghost", []float32{1}, 0); !errors.Is(err, model.ErrPersonaNotFound) {
			t.Errorf("expected ErrPersonaNotFound, got %v", err)
		}

		s.EnsurePersona(ctx, "p1", 3)
		if _, err := s.VectorScan(ctx, "p1", []float32{1, 0}, 0); !errors.Is(err, model.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})
}
