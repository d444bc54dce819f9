package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/persona-memory/internal/model"
)

// Export is the portable dump of one or more personas.
type Export struct {
	Personas  []model.Persona  `json:"personas"`
	Fragments []model.Fragment `json:"fragments"`
	Links     []model.Link     `json:"links,omitempty"`
}

// ExportAll dumps every fragment and link, optionally filtered by persona.
func ExportAll(ctx context.Context, s Store, personaID string) (*Export, error) {
	personas, err := s.ListPersonas(ctx)
	if err != nil {
		return nil, err
	}

	out := &Export{}
	seen := make(map[string]bool)
	for _, p := range personas {
		if personaID != "" && p.ID != personaID {
			continue
		}
		out.Personas = append(out.Personas, p)
		frags, err := s.List(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", p.ID, err)
		}
		for _, f := range frags {
			out.Fragments = append(out.Fragments, f)
			links, err := s.Links(ctx, f.ID)
			if err != nil {
				return nil, fmt.Errorf("export links %s: %w", f.ID, err)
			}
			for _, l := range links {
				key := l.FromID + "|" + l.ToID + "|" + l.Rel
				if !seen[key] {
					seen[key] = true
					out.Links = append(out.Links, l)
				}
			}
		}
	}
	if personaID != "" && len(out.Personas) == 0 {
		return nil, fmt.Errorf("export %q: %w", personaID, model.ErrPersonaNotFound)
	}
	return out, nil
}

// Import stores an export. Fragments whose ID already exists are skipped.
// Returns the number of fragments imported.
func Import(ctx context.Context, s Store, e *Export) (int, error) {
	for _, p := range e.Personas {
		if _, err := s.EnsurePersona(ctx, p.ID, p.Dimension); err != nil {
			return 0, fmt.Errorf("import persona %s: %w", p.ID, err)
		}
	}

	imported := 0
	for _, f := range e.Fragments {
		if _, err := s.EnsurePersona(ctx, f.PersonaID, len(f.Embedding)); err != nil {
			return imported, fmt.Errorf("import persona %s: %w", f.PersonaID, err)
		}
		f.Version = 0
		if err := s.Upsert(ctx, &f); err != nil {
			if errors.Is(err, model.ErrVersionConflict) {
				continue
			}
			return imported, fmt.Errorf("import %s: %w", f.ID, err)
		}
		imported++
	}

	for _, l := range e.Links {
		if err := s.Link(ctx, l); err != nil && !errors.Is(err, model.ErrNotFound) {
			return imported, fmt.Errorf("import link: %w", err)
		}
	}
	return imported, nil
}
