package store

import (
	"context"
	"os"

	"github.com/rcliao/persona-memory/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	Backend        string         `json:"backend"`
	DBPath         string         `json:"db_path,omitempty"`
	DBSizeBytes    int64          `json:"db_size_bytes,omitempty"`
	TotalFragments int            `json:"total_fragments"`
	TotalLinks     int            `json:"total_links"`
	Personas       []PersonaStats `json:"personas"`
}

// PersonaStats holds per-persona counts.
type PersonaStats struct {
	PersonaID string `json:"persona_id"`
	Dimension int    `json:"dimension"`
	Total     int    `json:"total"`
	Working   int    `json:"working"`
	ShortTerm int    `json:"short_term"`
	LongTerm  int    `json:"long_term"`
	Pending   int    `json:"pending"`
	Degraded  int    `json:"degraded"`
}

func (ps *PersonaStats) add(tier model.Tier, status model.EmbeddingStatus, n int) {
	ps.Total += n
	switch tier {
	case model.TierWorking:
		ps.Working += n
	case model.TierShortTerm:
		ps.ShortTerm += n
	case model.TierLongTerm:
		ps.LongTerm += n
	}
	switch status {
	case model.EmbeddingPending:
		ps.Pending += n
	case model.EmbeddingDegraded:
		ps.Degraded += n
	}
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "sqlite", DBPath: s.path}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fragments`).Scan(&st.TotalFragments)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fragment_links`).Scan(&st.TotalLinks)

	personas, err := s.ListPersonas(ctx)
	if err != nil {
		return st, err
	}
	byID := make(map[string]*PersonaStats, len(personas))
	st.Personas = make([]PersonaStats, len(personas))
	for i, p := range personas {
		st.Personas[i] = PersonaStats{PersonaID: p.ID, Dimension: p.Dimension}
		byID[p.ID] = &st.Personas[i]
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT persona_id, tier, embedding_status, COUNT(*)
		FROM fragments GROUP BY persona_id, tier, embedding_status`)
	if err != nil {
		return st, unavailable("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var personaID, status string
		var tier, n int
		if err := rows.Scan(&personaID, &tier, &status, &n); err != nil {
			return st, unavailable("stats", err)
		}
		if ps, ok := byID[personaID]; ok {
			ps.add(model.Tier(tier), model.EmbeddingStatus(status), n)
		}
	}
	return st, rows.Err()
}
