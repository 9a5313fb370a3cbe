package permission

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Schema for the workspace approvals database.
const workspaceSchema = `
CREATE TABLE IF NOT EXISTS workspace_approvals (
    workspace TEXT NOT NULL,
    pattern TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (workspace, pattern)
);
`

// SQLiteWorkspaceStore implements WorkspaceStore using SQLite, with an
// in-process cache kept write-through so lookups after an Approve never
// race the durable write.
type SQLiteWorkspaceStore struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string][]string
}

// NewSQLiteWorkspaceStore opens (creating if needed) the approvals database
// at the given path.
func NewSQLiteWorkspaceStore(path string) (*SQLiteWorkspaceStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(workspaceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteWorkspaceStore{
		db:    db,
		cache: make(map[string][]string),
	}, nil
}

func (s *SQLiteWorkspaceStore) Approve(dir string, patterns []string) error {
	key := WorkspaceKey(dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, pattern := range patterns {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO workspace_approvals (workspace, pattern) VALUES (?, ?)`,
			key, pattern,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert approval: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	cached := s.cache[key]
	for _, p := range patterns {
		if !containsPattern(cached, p) {
			cached = append(cached, p)
		}
	}
	s.cache[key] = cached
	return nil
}

func (s *SQLiteWorkspaceStore) Approved(dir string) ([]string, error) {
	key := WorkspaceKey(dir)

	s.mu.RLock()
	if cached, ok := s.cache[key]; ok {
		out := make([]string, len(cached))
		copy(out, cached)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT pattern FROM workspace_approvals WHERE workspace = ? ORDER BY created_at`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var patterns []string
	for rows.Next() {
		var pattern string
		if err := rows.Scan(&pattern); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		patterns = append(patterns, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = patterns
	s.mu.Unlock()

	out := make([]string, len(patterns))
	copy(out, patterns)
	return out, nil
}

func (s *SQLiteWorkspaceStore) Close() error {
	return s.db.Close()
}
