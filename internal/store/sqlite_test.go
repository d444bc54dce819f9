package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/persona-memory/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) {
		s := NewMemStore()
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFragment(id, persona string, ts time.Time) *model.Fragment {
	return &model.Fragment{
		ID:             id,
		PersonaID:      persona,
		Content:        "content of " + id,
		Sparse:         map[string]float64{"content": 1},
		Entities:       []string{id},
		Tier:           model.TierWorking,
		Category:       model.CategoryChat,
		Timestamp:      ts,
		Importance:     5,
		BaseImportance: 5,
	}
}

func mustInsert(t *testing.T, s Store, f *model.Fragment) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.EnsurePersona(ctx, f.PersonaID, 0); err != nil {
		t.Fatalf("ensure persona: %v", err)
	}
	if err := s.Upsert(ctx, f); err != nil {
		t.Fatalf("insert %s: %v", f.ID, err)
	}
}

func TestInsertAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		f := newFragment("a", "p1", epoch)
		mustInsert(t, s, f)

		if f.Version != 1 {
			t.Errorf("expected version 1 after insert, got %d", f.Version)
		}

		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Content != "content of a" || got.PersonaID != "p1" {
			t.Errorf("unexpected fragment: %+v", got)
		}
		if got.EmbeddingStatus != model.EmbeddingPending {
			t.Errorf("expected pending status, got %q", got.EmbeddingStatus)
		}
		if !got.Timestamp.Equal(epoch) {
			t.Errorf("timestamp round trip: got %v", got.Timestamp)
		}
		if got.Sparse["content"] != 1 || len(got.Entities) != 1 {
			t.Errorf("sparse features not persisted: %+v %+v", got.Sparse, got.Entities)
		}

		if _, err := s.Get(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestInsertRequiresPersona(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.Upsert(context.Background(), newFragment("a", "ghost", epoch))
		if !errors.Is(err, model.ErrPersonaNotFound) {
			t.Errorf("expected ErrPersonaNotFound, got %v", err)
		}
	})
}

func TestInsertDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		mustInsert(t, s, newFragment("a", "p1", epoch))
		err := s.Upsert(context.Background(), newFragment("a", "p1", epoch))
		if !errors.Is(err, model.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict, got %v", err)
		}
	})
}

func TestUpsertVersionCheck(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustInsert(t, s, newFragment("a", "p1", epoch))

		first, _ := s.Get(ctx, "a")
		second, _ := s.Get(ctx, "a")

		first.Importance = 8
		first.Tier = model.TierShortTerm
		if err := s.Upsert(ctx, first); err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if first.Version != 2 {
			t.Errorf("expected version 2, got %d", first.Version)
		}

		second.Importance = 2
		err := s.Upsert(ctx, second)
		if !errors.Is(err, model.ErrVersionConflict) {
			t.Fatalf("stale write should conflict, got %v", err)
		}

		got, _ := s.Get(ctx, "a")
		if got.Importance != 8 || got.Tier != model.TierShortTerm {
			t.Errorf("stale write leaked: %+v", got)
		}
	})
}

func TestUpsertRejectsTierRegression(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		f := newFragment("a", "p1", epoch)
		f.Tier = model.TierLongTerm
		mustInsert(t, s, f)

		f.Tier = model.TierShortTerm
		if err := s.Upsert(ctx, f); !errors.Is(err, model.ErrTierRegression) {
			t.Errorf("expected ErrTierRegression, got %v", err)
		}
	})
}

func TestUpsertMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		f := newFragment("a", "p1", epoch)
		f.Version = 3
		if err := s.Upsert(context.Background(), f); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSetEmbedding(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustInsert(t, s, newFragment("a", "p1", epoch))
		mustInsert(t, s, newFragment("b", "p1", epoch))

		if err := s.SetEmbedding(ctx, "a", []float32{1, 0, 0}); err != nil {
			t.Fatalf("set embedding: %v", err)
		}
		p, _ := s.GetPersona(ctx, "p1")
		if p.Dimension != 3 {
			t.Errorf("persona should adopt dimension 3, got %d", p.Dimension)
		}

		err := s.SetEmbedding(ctx, "b", []float32{1, 0})
		if !errors.Is(err, model.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}

		if err := s.SetEmbedding(ctx, "b", nil); err != nil {
			t.Fatalf("degrade: %v", err)
		}
		a, _ := s.Get(ctx, "a")
		b, _ := s.Get(ctx, "b")
		if a.EmbeddingStatus != model.EmbeddingReady || len(a.Embedding) != 3 {
			t.Errorf("a should be ready: %+v", a)
		}
		if !b.Degraded() || b.Embedding != nil {
			t.Errorf("b should be degraded: %+v", b)
		}
		if a.Version != 1 {
			t.Errorf("embedding writes must not bump version, got %d", a.Version)
		}
	})
}

func TestTouch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustInsert(t, s, newFragment("a", "p1", epoch))

		later := epoch.Add(time.Hour)
		if err := s.Touch(ctx, []string{"a", "missing"}, later); err != nil {
			t.Fatalf("touch: %v", err)
		}
		if err := s.Touch(ctx, []string{"a"}, epoch); err != nil {
			t.Fatalf("touch: %v", err)
		}

		got, _ := s.Get(ctx, "a")
		if got.AccessCount != 2 {
			t.Errorf("expected 2 accesses, got %d", got.AccessCount)
		}
		if got.LastAccessed == nil || !got.LastAccessed.Equal(later) {
			t.Errorf("last accessed should not move backward: %v", got.LastAccessed)
		}
		if got.Version != 1 {
			t.Errorf("touch must not bump version, got %d", got.Version)
		}
	})
}

func TestListByTier(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, tier := range model.AllTiers {
			f := newFragment(fmt.Sprintf("f%d", i), "p1", epoch.Add(time.Duration(i)*time.Minute))
			f.Tier = tier
			mustInsert(t, s, f)
		}
		mustInsert(t, s, newFragment("other", "p2", epoch))

		all, err := s.List(ctx, "p1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 3 || all[0].ID != "f0" {
			t.Errorf("expected 3 fragments oldest first, got %d", len(all))
		}

		some, _ := s.List(ctx, "p1", model.TierShortTerm, model.TierLongTerm)
		if len(some) != 2 {
			t.Errorf("expected 2 fragments, got %d", len(some))
		}
	})
}

func TestDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustInsert(t, s, newFragment("a", "p1", epoch))

		if err := s.Delete(ctx, "a"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.Get(ctx, "a"); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, "a"); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("second delete should be ErrNotFound, got %v", err)
		}
	})
}

func TestEnsurePersona(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.GetPersona(ctx, "p1"); !errors.Is(err, model.ErrPersonaNotFound) {
			t.Errorf("expected ErrPersonaNotFound, got %v", err)
		}
		p, err := s.EnsurePersona(ctx, "p1", 0)
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if p.Dimension != 0 {
			t.Errorf("dimension should be unset, got %d", p.Dimension)
		}
		p, _ = s.EnsurePersona(ctx, "p1", 8)
		if p.Dimension != 8 {
			t.Errorf("dimension should be adopted, got %d", p.Dimension)
		}
		p, _ = s.EnsurePersona(ctx, "p1", 16)
		if p.Dimension != 8 {
			t.Errorf("dimension is fixed once set, got %d", p.Dimension)
		}

		s.EnsurePersona(ctx, "p0", 0)
		list, _ := s.ListPersonas(ctx)
		if len(list) != 2 || list[0].ID != "p0" {
			t.Errorf("expected sorted personas, got %+v", list)
		}
	})
}

func TestStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustInsert(t, s, newFragment("a", "p1", epoch))
		b := newFragment("b", "p1", epoch)
		b.Tier = model.TierLongTerm
		mustInsert(t, s, b)
		s.SetEmbedding(ctx, "b", nil)

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if st.TotalFragments != 2 || len(st.Personas) != 1 {
			t.Fatalf("unexpected stats: %+v", st)
		}
		ps := st.Personas[0]
		if ps.Working != 1 || ps.LongTerm != 1 || ps.Degraded != 1 || ps.Pending != 1 {
			t.Errorf("unexpected persona stats: %+v", ps)
		}
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustInsert(t, s, newFragment("a", "p1", epoch))
	s.SetEmbedding(ctx, "a", []float32{0.5, 0.25})
	s.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.5 || got.Embedding[1] != 0.25 {
		t.Errorf("embedding round trip: %v", got.Embedding)
	}
}

func TestMemStoreClosed(t *testing.T) {
	s := NewMemStore()
	s.Close()
	_, err := s.Get(context.Background(), "a")
	if !errors.Is(err, model.ErrStoreUnavailable) || !model.IsRetryable(err) {
		t.Errorf("closed store should report ErrStoreUnavailable, got %v", err)
	}
}

func TestCorruptSparseColumnIsReported(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, newFragment("a", "p1", epoch))

	for _, col := range []string{"sparse", "entities"} {
		if _, err := s.db.ExecContext(ctx, `UPDATE fragments SET `+col+` = '{not json' WHERE id = 'a'`); err != nil {
			t.Fatalf("corrupt %s: %v", col, err)
		}
		if _, err := s.Get(ctx, "a"); err == nil || !strings.Contains(err.Error(), "decode") {
			t.Errorf("get with corrupt %s: want decode error, got %v", col, err)
		}
		if _, err := s.List(ctx, "p1"); err == nil {
			t.Errorf("list with corrupt %s: want error", col)
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE fragments SET sparse = NULL, entities = NULL WHERE id = 'a'`); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get after reset: %v", err)
	}
	if len(got.Sparse) != 0 || len(got.Entities) != 0 {
		t.Errorf("expected empty features, got %v %v", got.Sparse, got.Entities)
	}
}
