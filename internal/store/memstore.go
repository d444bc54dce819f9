package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/persona-memory/internal/embedding"
	"github.com/rcliao/persona-memory/internal/model"
)

// MemStore is an in-process Store. Nothing survives Close.
type MemStore struct {
	mu        sync.RWMutex
	personas  map[string]*model.Persona
	fragments map[string]*model.Fragment
	byPersona map[string]map[string]struct{}
	links     map[model.Link]struct{}
	closed    bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		personas:  make(map[string]*model.Persona),
		fragments: make(map[string]*model.Fragment),
		byPersona: make(map[string]map[string]struct{}),
		links:     make(map[model.Link]struct{}),
	}
}

func (s *MemStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("%w: store closed", model.ErrStoreUnavailable)
	}
	return nil
}

// clone deep-copies a fragment so callers never alias store state.
func clone(f *model.Fragment) model.Fragment {
	c := *f
	if f.Embedding != nil {
		c.Embedding = append([]float32(nil), f.Embedding...)
	}
	if f.Sparse != nil {
		c.Sparse = make(map[string]float64, len(f.Sparse))
		for k, v := range f.Sparse {
			c.Sparse[k] = v
		}
	}
	if f.Entities != nil {
		c.Entities = append([]string(nil), f.Entities...)
	}
	if f.LastAccessed != nil {
		t := *f.LastAccessed
		c.LastAccessed = &t
	}
	return c
}

func (s *MemStore) EnsurePersona(ctx context.Context, id string, dimension int) (*model.Persona, error) {
	if id == "" {
		return nil, fmt.Errorf("ensure persona: %w: empty id", model.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, ok := s.personas[id]
	if !ok {
		p = &model.Persona{ID: id, Dimension: dimension, CreatedAt: time.Now().UTC()}
		s.personas[id] = p
		s.byPersona[id] = make(map[string]struct{})
	} else if p.Dimension == 0 && dimension > 0 {
		p.Dimension = dimension
	}
	c := *p
	return &c, nil
}

func (s *MemStore) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, ok := s.personas[id]
	if !ok {
		return nil, fmt.Errorf("persona %q: %w", id, model.ErrPersonaNotFound)
	}
	c := *p
	return &c, nil
}

func (s *MemStore) ListPersonas(ctx context.Context) ([]model.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]model.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) Upsert(ctx context.Context, f *model.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if f.Version == 0 {
		p, ok := s.personas[f.PersonaID]
		if !ok {
			return fmt.Errorf("persona %q: %w", f.PersonaID, model.ErrPersonaNotFound)
		}
		if _, exists := s.fragments[f.ID]; exists {
			return fmt.Errorf("insert %s: already exists: %w", f.ID, model.ErrVersionConflict)
		}
		dim, err := checkDimension(p, f.Embedding)
		if err != nil {
			return err
		}
		p.Dimension = dim
		if f.EmbeddingStatus == "" {
			f.EmbeddingStatus = model.EmbeddingPending
		}
		f.Version = 1
		c := clone(f)
		s.fragments[f.ID] = &c
		s.byPersona[f.PersonaID][f.ID] = struct{}{}
		return nil
	}

	stored, ok := s.fragments[f.ID]
	if !ok {
		return fmt.Errorf("upsert %s: %w", f.ID, model.ErrNotFound)
	}
	if err := checkUpdate(stored, f); err != nil {
		return err
	}
	stored.Tier = f.Tier
	stored.Importance = f.Importance
	stored.EmotionalImpact = f.EmotionalImpact
	stored.Version++
	f.Version = stored.Version
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*model.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	f, ok := s.fragments[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, model.ErrNotFound)
	}
	c := clone(f)
	return &c, nil
}

// collect returns clones of a persona's fragments accepted by keep,
// oldest first. Caller holds the read lock.
func (s *MemStore) collect(personaID string, keep func(*model.Fragment) bool) []model.Fragment {
	var out []model.Fragment
	for id := range s.byPersona[personaID] {
		f := s.fragments[id]
		if keep(f) {
			out = append(out, clone(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemStore) List(ctx context.Context, personaID string, tiers ...model.Tier) ([]model.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.collect(personaID, func(f *model.Fragment) bool {
		if len(tiers) == 0 {
			return true
		}
		for _, t := range tiers {
			if f.Tier == t {
				return true
			}
		}
		return false
	}), nil
}

func (s *MemStore) RangeByTime(ctx context.Context, personaID string, start, end time.Time) ([]model.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.collect(personaID, func(f *model.Fragment) bool {
		return !f.Timestamp.Before(start) && !f.Timestamp.After(end)
	}), nil
}

func (s *MemStore) TopByImportance(ctx context.Context, personaID string, limit int) ([]model.Fragment, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	all := s.collect(personaID, func(*model.Fragment) bool { return true })
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Importance != all[j].Importance {
			return all[i].Importance > all[j].Importance
		}
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.After(all[j].Timestamp)
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemStore) VectorScan(ctx context.Context, personaID string, vec []float32, threshold float64) ([]ScoredFragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, ok := s.personas[personaID]
	if !ok {
		return nil, fmt.Errorf("persona %q: %w", personaID, model.ErrPersonaNotFound)
	}
	if p.Dimension != 0 && len(vec) != p.Dimension {
		return nil, fmt.Errorf("vector scan: %w: want %d dims, got %d", model.ErrDimensionMismatch, p.Dimension, len(vec))
	}

	var results []ScoredFragment
	for id := range s.byPersona[personaID] {
		f := s.fragments[id]
		if f.EmbeddingStatus != model.EmbeddingReady || f.Embedding == nil {
			continue
		}
		sim := embedding.CosineSimilarity(vec, f.Embedding)
		if sim < threshold {
			continue
		}
		results = append(results, ScoredFragment{Fragment: clone(f), Similarity: sim})
	}
	sortScored(results)
	return results, nil
}

func (s *MemStore) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	f, ok := s.fragments[id]
	if !ok {
		return fmt.Errorf("set embedding %s: %w", id, model.ErrNotFound)
	}
	if vec == nil {
		f.Embedding = nil
		f.EmbeddingStatus = model.EmbeddingDegraded
		return nil
	}
	p := s.personas[f.PersonaID]
	dim, err := checkDimension(p, vec)
	if err != nil {
		return err
	}
	p.Dimension = dim
	f.Embedding = append([]float32(nil), vec...)
	f.EmbeddingStatus = model.EmbeddingReady
	return nil
}

func (s *MemStore) Touch(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, id := range ids {
		f, ok := s.fragments[id]
		if !ok {
			continue
		}
		f.AccessCount++
		if f.LastAccessed == nil || at.After(*f.LastAccessed) {
			t := at.UTC()
			f.LastAccessed = &t
		}
	}
	return nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	f, ok := s.fragments[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, model.ErrNotFound)
	}
	delete(s.byPersona[f.PersonaID], id)
	delete(s.fragments, id)
	for l := range s.links {
		if l.FromID == id || l.ToID == id {
			delete(s.links, l)
		}
	}
	return nil
}

func (s *MemStore) Link(ctx context.Context, l model.Link) error {
	if err := validateLink(l); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	from, ok := s.fragments[l.FromID]
	if !ok {
		return fmt.Errorf("resolve from: %s: %w", l.FromID, model.ErrNotFound)
	}
	to, ok := s.fragments[l.ToID]
	if !ok {
		return fmt.Errorf("resolve to: %s: %w", l.ToID, model.ErrNotFound)
	}
	if from.PersonaID != to.PersonaID {
		return fmt.Errorf("%w: link crosses personas %s and %s", model.ErrInvalidInput, from.PersonaID, to.PersonaID)
	}
	key := model.Link{FromID: l.FromID, ToID: l.ToID, Rel: l.Rel}
	for existing := range s.links {
		if existing.FromID == key.FromID && existing.ToID == key.ToID && existing.Rel == key.Rel {
			return nil
		}
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.links[l] = struct{}{}
	return nil
}

func (s *MemStore) Unlink(ctx context.Context, l model.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for existing := range s.links {
		if existing.FromID == l.FromID && existing.ToID == l.ToID && existing.Rel == l.Rel {
			delete(s.links, existing)
		}
	}
	return nil
}

func (s *MemStore) Links(ctx context.Context, fragmentID string) ([]model.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []model.Link
	for l := range s.links {
		if l.FromID == fragmentID || l.ToID == fragmentID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].FromID != out[j].FromID {
			return out[i].FromID < out[j].FromID
		}
		return out[i].ToID < out[j].ToID
	})
	return out, nil
}

func (s *MemStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st := &Stats{Backend: "memory", TotalFragments: len(s.fragments), TotalLinks: len(s.links)}
	ids := make([]string, 0, len(s.personas))
	for id := range s.personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ps := PersonaStats{PersonaID: id, Dimension: s.personas[id].Dimension}
		for fid := range s.byPersona[id] {
			f := s.fragments[fid]
			ps.add(f.Tier, f.EmbeddingStatus, 1)
		}
		st.Personas = append(st.Personas, ps)
	}
	return st, nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
