// Package store persists the working-memory entities in SQLite: sessions,
// the per-session invocation chain, episodic experiences, scene/cell
// semantic memory, and governance receipts and tokens.
package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"workmem/internal/salience"
)

// schemaVersion marks the current schema revision. The surrounding system
// reads it to decide forward migrations; this core only creates the schema.
const schemaVersion = 1

// SQLiteStore implements the working-memory store over SQLite.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
	weights salience.Weights
	logger  *zap.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// A nil logger disables logging.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		weights: salience.DefaultWeights(),
		logger:  logger.With(zap.String("component", "store")),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Weights returns the salience weights used for cell scoring.
func (s *SQLiteStore) Weights() salience.Weights {
	return s.weights
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_info (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		scope_mode        TEXT NOT NULL,
		flags             TEXT,
		last_phase        TEXT,
		last_context_hash TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC);

	CREATE TABLE IF NOT EXISTS invocations (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		tool_name  TEXT NOT NULL,
		input      TEXT NOT NULL,
		output     TEXT NOT NULL,
		ts         TEXT NOT NULL,
		hash       TEXT NOT NULL,
		prev_hash  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_session ON invocations(session_id, id);

	CREATE TABLE IF NOT EXISTS experiences (
		id           TEXT PRIMARY KEY,
		session_id   TEXT,
		scope        TEXT NOT NULL,
		context_keys TEXT,
		summary      TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		trust        INTEGER NOT NULL DEFAULT 0,
		source       TEXT NOT NULL,
		consolidated INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_experiences_scope ON experiences(scope, trust DESC);
	CREATE INDEX IF NOT EXISTS idx_experiences_consolidated ON experiences(scope, consolidated);

	CREATE TABLE IF NOT EXISTS scenes (
		id           TEXT PRIMARY KEY,
		scope        TEXT NOT NULL,
		label        TEXT NOT NULL,
		context_keys TEXT,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scenes_scope ON scenes(scope);

	CREATE TABLE IF NOT EXISTS cells (
		id                  TEXT PRIMARY KEY,
		scene_id            TEXT NOT NULL REFERENCES scenes(id),
		scope               TEXT NOT NULL,
		cell_type           TEXT NOT NULL,
		title               TEXT NOT NULL,
		body                TEXT NOT NULL,
		trust               INTEGER NOT NULL DEFAULT 0,
		state               TEXT NOT NULL DEFAULT 'unverified',
		evidence_count      INTEGER NOT NULL DEFAULT 0,
		contradiction_count INTEGER NOT NULL DEFAULT 0,
		salience            INTEGER NOT NULL DEFAULT 0,
		canonical_key       TEXT NOT NULL,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cells_canonical ON cells(canonical_key);
	CREATE INDEX IF NOT EXISTS idx_cells_scope ON cells(scope, trust DESC, salience DESC);

	CREATE TABLE IF NOT EXISTS evidence_links (
		cell_id       TEXT NOT NULL REFERENCES cells(id),
		experience_id TEXT NOT NULL REFERENCES experiences(id),
		relation      TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		PRIMARY KEY (cell_id, experience_id, relation)
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_experience ON evidence_links(experience_id);

	CREATE TABLE IF NOT EXISTS receipts (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		receipt_type TEXT NOT NULL,
		payload      TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		signature    TEXT NOT NULL,
		public_meta  TEXT,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_receipts_session ON receipts(session_id);

	CREATE TABLE IF NOT EXISTS tokens (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		token_type   TEXT NOT NULL,
		payload      TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		signature    TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_session ON tokens(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO schema_info (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version`, schemaVersion)
	return err
}

// SchemaVersion returns the stored schema revision marker.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT version FROM schema_info WHERE id = 1`).Scan(&v)
	return v, err
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// timeFormat pads fractional seconds to a fixed width so lexicographic
// ordering of stored timestamps matches chronological ordering in SQL.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
