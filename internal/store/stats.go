package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath         string       `json:"db_path"`
	DBSizeBytes    int64        `json:"db_size_bytes"`
	Sessions       int          `json:"sessions"`
	Invocations    int          `json:"invocations"`
	Experiences    int          `json:"experiences"`
	Unconsolidated int          `json:"unconsolidated_experiences"`
	Scenes         int          `json:"scenes"`
	Cells          int          `json:"cells"`
	Receipts       int          `json:"receipts"`
	Tokens         int          `json:"tokens"`
	Scopes         []ScopeStats `json:"scopes,omitempty"`
}

// ScopeStats holds per-scope counts.
type ScopeStats struct {
	Scope       string `json:"scope"`
	Experiences int    `json:"experiences"`
	Cells       int    `json:"cells"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&st.Sessions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&st.Invocations)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiences`).Scan(&st.Experiences)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiences WHERE consolidated = 0`).Scan(&st.Unconsolidated)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scenes`).Scan(&st.Scenes)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells`).Scan(&st.Cells)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&st.Receipts)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens`).Scan(&st.Tokens)

	rows, err := s.db.QueryContext(ctx, `
		SELECT scope,
		       SUM(CASE WHEN kind = 'experience' THEN n ELSE 0 END),
		       SUM(CASE WHEN kind = 'cell' THEN n ELSE 0 END)
		FROM (
			SELECT scope, 'experience' AS kind, COUNT(*) AS n FROM experiences GROUP BY scope
			UNION ALL
			SELECT scope, 'cell' AS kind, COUNT(*) AS n FROM cells GROUP BY scope
		)
		GROUP BY scope ORDER BY scope`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var sc ScopeStats
		rows.Scan(&sc.Scope, &sc.Experiences, &sc.Cells)
		st.Scopes = append(st.Scopes, sc)
	}

	return st, nil
}
