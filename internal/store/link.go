package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/persona-memory/internal/model"
)

func validateLink(l model.Link) error {
	if !model.ValidRels[l.Rel] {
		return fmt.Errorf("%w: invalid relation %q (valid: relates_to, contradicts, depends_on, refines)", model.ErrInvalidInput, l.Rel)
	}
	if l.FromID == l.ToID {
		return fmt.Errorf("%w: cannot link a fragment to itself", model.ErrInvalidInput)
	}
	return nil
}

// Link creates a relation between two fragments of the same persona.
func (s *SQLiteStore) Link(ctx context.Context, l model.Link) error {
	if err := validateLink(l); err != nil {
		return err
	}

	var fromPersona, toPersona string
	if err := s.personaOf(ctx, l.FromID, &fromPersona); err != nil {
		return fmt.Errorf("resolve from: %w", err)
	}
	if err := s.personaOf(ctx, l.ToID, &toPersona); err != nil {
		return fmt.Errorf("resolve to: %w", err)
	}
	if fromPersona != toPersona {
		return fmt.Errorf("%w: link crosses personas %s and %s", model.ErrInvalidInput, fromPersona, toPersona)
	}

	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fragment_links (from_id, to_id, rel, created_at) VALUES (?, ?, ?, ?)`,
		l.FromID, l.ToID, l.Rel, created.UnixNano())
	if err != nil {
		return unavailable("link", err)
	}
	return nil
}

// Unlink removes a relation. Removing a missing link is not an error.
func (s *SQLiteStore) Unlink(ctx context.Context, l model.Link) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fragment_links WHERE from_id = ? AND to_id = ? AND rel = ?`,
		l.FromID, l.ToID, l.Rel)
	if err != nil {
		return unavailable("unlink", err)
	}
	return nil
}

// Links returns all links touching a fragment, in either direction.
func (s *SQLiteStore) Links(ctx context.Context, fragmentID string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, rel, created_at FROM fragment_links
		 WHERE from_id = ? OR to_id = ?
		 ORDER BY created_at, from_id, to_id`, fragmentID, fragmentID)
	if err != nil {
		return nil, unavailable("links", err)
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		var l model.Link
		var created int64
		if err := rows.Scan(&l.FromID, &l.ToID, &l.Rel, &created); err != nil {
			return nil, unavailable("links", err)
		}
		l.CreatedAt = time.Unix(0, created).UTC()
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteStore) personaOf(ctx context.Context, id string, persona *string) error {
	err := s.db.QueryRowContext(ctx, `SELECT persona_id FROM fragments WHERE id = ?`, id).Scan(persona)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return unavailable("resolve fragment", err)
	}
	return nil
}
