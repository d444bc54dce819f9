package store

import (
	"context"
	"time"

	"github.com/rcliao/persona-memory/internal/model"
)

// RangeByTime returns a persona's fragments within [start, end], oldest first.
func (s *SQLiteStore) RangeByTime(ctx context.Context, personaID string, start, end time.Time) ([]model.Fragment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fragmentColumns+` FROM fragments
		 WHERE persona_id = ? AND ts >= ? AND ts <= ?
		 ORDER BY ts ASC, id ASC`,
		personaID, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, unavailable("range by time", err)
	}
	out, err := collectFragments(rows)
	if err != nil {
		return nil, unavailable("range by time", err)
	}
	return out, nil
}

// TopByImportance returns the most important fragments, newest first on ties.
func (s *SQLiteStore) TopByImportance(ctx context.Context, personaID string, limit int) ([]model.Fragment, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fragmentColumns+` FROM fragments
		 WHERE persona_id = ?
		 ORDER BY importance DESC, ts DESC, id ASC
		 LIMIT ?`, personaID, limit)
	if err != nil {
		return nil, unavailable("top by importance", err)
	}
	out, err := collectFragments(rows)
	if err != nil {
		return nil, unavailable("top by importance", err)
	}
	return out, nil
}
