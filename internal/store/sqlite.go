package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/persona-memory/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serialises writers; versioned updates rely on it.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS personas (
		id         TEXT PRIMARY KEY,
		dimension  INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fragments (
		id               TEXT PRIMARY KEY,
		persona_id       TEXT NOT NULL REFERENCES personas(id),
		content          TEXT NOT NULL,
		embedding        BLOB,
		embedding_status TEXT NOT NULL DEFAULT 'pending',
		sparse           TEXT,
		entities         TEXT,
		tier             INTEGER NOT NULL DEFAULT 0,
		category         TEXT NOT NULL,
		source           TEXT NOT NULL DEFAULT '',
		user_id          TEXT NOT NULL DEFAULT '',
		ts               INTEGER NOT NULL,
		importance       REAL NOT NULL,
		base_importance  REAL NOT NULL,
		emotional_impact REAL NOT NULL DEFAULT 0,
		access_count     INTEGER NOT NULL DEFAULT 0,
		last_accessed    INTEGER,
		version          INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_fragments_persona_ts ON fragments(persona_id, ts);
	CREATE INDEX IF NOT EXISTS idx_fragments_persona_tier ON fragments(persona_id, tier);
	CREATE INDEX IF NOT EXISTS idx_fragments_persona_importance ON fragments(persona_id, importance DESC);

	CREATE TABLE IF NOT EXISTS fragment_links (
		from_id    TEXT NOT NULL REFERENCES fragments(id) ON DELETE CASCADE,
		to_id      TEXT NOT NULL REFERENCES fragments(id) ON DELETE CASCADE,
		rel        TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON fragment_links(to_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const fragmentColumns = `id, persona_id, content, embedding, embedding_status, sparse, entities,
	tier, category, source, user_id, ts, importance, base_importance, emotional_impact,
	access_count, last_accessed, version`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFragment(sc scanner) (model.Fragment, error) {
	var f model.Fragment
	var embedding []byte
	var sparseJSON, entitiesJSON sql.NullString
	var tier int
	var category, status string
	var ts int64
	var lastAccessed sql.NullInt64

	err := sc.Scan(&f.ID, &f.PersonaID, &f.Content, &embedding, &status, &sparseJSON, &entitiesJSON,
		&tier, &category, &f.Source, &f.UserID, &ts, &f.Importance, &f.BaseImportance,
		&f.EmotionalImpact, &f.AccessCount, &lastAccessed, &f.Version)
	if err != nil {
		return f, err
	}

	if f.Embedding, err = decodeVector(embedding); err != nil {
		return f, fmt.Errorf("fragment %s: %w", f.ID, err)
	}
	f.EmbeddingStatus = model.EmbeddingStatus(status)
	f.Tier = model.Tier(tier)
	f.Category = model.Category(category)
	f.Timestamp = time.Unix(0, ts).UTC()
	if sparseJSON.Valid && sparseJSON.String != "" {
		if err := json.Unmarshal([]byte(sparseJSON.String), &f.Sparse); err != nil {
			return f, fmt.Errorf("fragment %s: decode sparse terms: %w", f.ID, err)
		}
	}
	if entitiesJSON.Valid && entitiesJSON.String != "" {
		if err := json.Unmarshal([]byte(entitiesJSON.String), &f.Entities); err != nil {
			return f, fmt.Errorf("fragment %s: decode entities: %w", f.ID, err)
		}
	}
	if lastAccessed.Valid {
		t := time.Unix(0, lastAccessed.Int64).UTC()
		f.LastAccessed = &t
	}
	return f, nil
}

func collectFragments(rows *sql.Rows) ([]model.Fragment, error) {
	defer rows.Close()
	var out []model.Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) EnsurePersona(ctx context.Context, id string, dimension int) (*model.Persona, error) {
	if id == "" {
		return nil, fmt.Errorf("ensure persona: %w: empty id", model.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO personas (id, dimension, created_at) VALUES (?, ?, ?)`,
		id, dimension, time.Now().UTC().UnixNano())
	if err != nil {
		return nil, unavailable("ensure persona", err)
	}
	p, err := s.GetPersona(ctx, id)
	if err != nil {
		return nil, err
	}
	if dimension > 0 && p.Dimension == 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE personas SET dimension = ? WHERE id = ? AND dimension = 0`, dimension, id); err != nil {
			return nil, unavailable("ensure persona", err)
		}
		p.Dimension = dimension
	}
	return p, nil
}

func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	return getPersona(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getPersona(ctx context.Context, q queryRower, id string) (*model.Persona, error) {
	var p model.Persona
	var created int64
	err := q.QueryRowContext(ctx,
		`SELECT id, dimension, created_at FROM personas WHERE id = ?`, id).Scan(&p.ID, &p.Dimension, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("persona %q: %w", id, model.ErrPersonaNotFound)
	}
	if err != nil {
		return nil, unavailable("get persona", err)
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	return &p, nil
}

func (s *SQLiteStore) ListPersonas(ctx context.Context) ([]model.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, dimension, created_at FROM personas ORDER BY id`)
	if err != nil {
		return nil, unavailable("list personas", err)
	}
	defer rows.Close()

	var out []model.Persona
	for rows.Next() {
		var p model.Persona
		var created int64
		if err := rows.Scan(&p.ID, &p.Dimension, &created); err != nil {
			return nil, unavailable("list personas", err)
		}
		p.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, f *model.Fragment) error {
	if f.Version == 0 {
		return s.insert(ctx, f)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("upsert", err)
	}
	defer tx.Rollback()

	var stored model.Fragment
	var tier int
	err = tx.QueryRowContext(ctx, `SELECT version, tier FROM fragments WHERE id = ?`, f.ID).
		Scan(&stored.Version, &tier)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("upsert %s: %w", f.ID, model.ErrNotFound)
	}
	if err != nil {
		return unavailable("upsert", err)
	}
	stored.Tier = model.Tier(tier)
	if err := checkUpdate(&stored, f); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE fragments SET tier = ?, importance = ?, emotional_impact = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		int(f.Tier), f.Importance, f.EmotionalImpact, f.ID, f.Version)
	if err != nil {
		return unavailable("upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("upsert", err)
	}
	f.Version++
	return nil
}

func (s *SQLiteStore) insert(ctx context.Context, f *model.Fragment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("insert fragment", err)
	}
	defer tx.Rollback()

	p, err := getPersona(ctx, tx, f.PersonaID)
	if err != nil {
		return err
	}
	dim, err := checkDimension(p, f.Embedding)
	if err != nil {
		return err
	}
	if dim != p.Dimension {
		if _, err := tx.ExecContext(ctx, `UPDATE personas SET dimension = ? WHERE id = ?`, dim, p.ID); err != nil {
			return unavailable("insert fragment", err)
		}
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM fragments WHERE id = ?`, f.ID).Scan(&exists); err != nil {
		return unavailable("insert fragment", err)
	}
	if exists > 0 {
		return fmt.Errorf("insert %s: already exists: %w", f.ID, model.ErrVersionConflict)
	}

	var sparseJSON, entitiesJSON *string
	if len(f.Sparse) > 0 {
		b, err := json.Marshal(f.Sparse)
		if err != nil {
			return fmt.Errorf("insert %s: encode sparse terms: %w", f.ID, err)
		}
		v := string(b)
		sparseJSON = &v
	}
	if len(f.Entities) > 0 {
		b, err := json.Marshal(f.Entities)
		if err != nil {
			return fmt.Errorf("insert %s: encode entities: %w", f.ID, err)
		}
		v := string(b)
		entitiesJSON = &v
	}
	var lastAccessed *int64
	if f.LastAccessed != nil {
		v := f.LastAccessed.UnixNano()
		lastAccessed = &v
	}
	status := f.EmbeddingStatus
	if status == "" {
		status = model.EmbeddingPending
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO fragments (`+fragmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		f.ID, f.PersonaID, f.Content, encodeVector(f.Embedding), string(status), sparseJSON, entitiesJSON,
		int(f.Tier), string(f.Category), f.Source, f.UserID, f.Timestamp.UnixNano(),
		f.Importance, f.BaseImportance, f.EmotionalImpact, f.AccessCount, lastAccessed)
	if err != nil {
		return unavailable("insert fragment", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("insert fragment", err)
	}
	f.EmbeddingStatus = status
	f.Version = 1
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Fragment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fragmentColumns+` FROM fragments WHERE id = ?`, id)
	f, err := scanFragment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return &f, nil
}

func (s *SQLiteStore) List(ctx context.Context, personaID string, tiers ...model.Tier) ([]model.Fragment, error) {
	where := []string{"persona_id = ?"}
	args := []interface{}{personaID}

	if len(tiers) > 0 {
		ph := make([]string, len(tiers))
		for i, t := range tiers {
			ph[i] = "?"
			args = append(args, int(t))
		}
		where = append(where, "tier IN ("+strings.Join(ph, ", ")+")")
	}

	query := `SELECT ` + fragmentColumns + ` FROM fragments WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ts ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list", err)
	}
	out, err := collectFragments(rows)
	if err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("set embedding", err)
	}
	defer tx.Rollback()

	var personaID string
	err = tx.QueryRowContext(ctx, `SELECT persona_id FROM fragments WHERE id = ?`, id).Scan(&personaID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("set embedding %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return unavailable("set embedding", err)
	}

	if vec == nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE fragments SET embedding = NULL, embedding_status = ? WHERE id = ?`,
			string(model.EmbeddingDegraded), id)
	} else {
		p, perr := getPersona(ctx, tx, personaID)
		if perr != nil {
			return perr
		}
		dim, derr := checkDimension(p, vec)
		if derr != nil {
			return derr
		}
		if dim != p.Dimension {
			if _, err := tx.ExecContext(ctx, `UPDATE personas SET dimension = ? WHERE id = ?`, dim, p.ID); err != nil {
				return unavailable("set embedding", err)
			}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE fragments SET embedding = ?, embedding_status = ? WHERE id = ?`,
			encodeVector(vec), string(model.EmbeddingReady), id)
	}
	if err != nil {
		return unavailable("set embedding", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("set embedding", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("touch", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		_, err := tx.ExecContext(ctx,
			`UPDATE fragments SET access_count = access_count + 1,
			        last_accessed = MAX(COALESCE(last_accessed, 0), ?)
			 WHERE id = ?`, at.UnixNano(), id)
		if err != nil {
			return unavailable("touch", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("touch", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
