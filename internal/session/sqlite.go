package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/stream"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    cwd TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    turns INTEGER NOT NULL DEFAULT 0,
    tool_calls INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    cached_input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    session_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    reasoning TEXT NOT NULL DEFAULT '',
    tool_calls TEXT,
    steps TEXT,
    streaming BOOLEAN NOT NULL DEFAULT TRUE,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    cached_input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
`

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, provider, model, cwd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Provider, sess.Model, sess.CWD, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, provider, model, cwd, created_at, updated_at,
		       turns, tool_calls, input_tokens, cached_input_tokens, output_tokens
		FROM sessions WHERE id = ?`, id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.Title, &sess.Provider, &sess.Model, &sess.CWD,
		&sess.CreatedAt, &sess.UpdatedAt,
		&sess.Turns, &sess.ToolCalls, &sess.InputTokens, &sess.CachedInputTokens, &sess.OutputTokens)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, provider, model, cwd, created_at, updated_at,
		       turns, tool_calls, input_tokens, cached_input_tokens, output_tokens
		FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Provider, &sess.Model, &sess.CWD,
			&sess.CreatedAt, &sess.UpdatedAt,
			&sess.Turns, &sess.ToolCalls, &sess.InputTokens, &sess.CachedInputTokens, &sess.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateMetrics(ctx context.Context, id string, turns, toolCalls int, u llm.Usage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
		    turns = turns + ?,
		    tool_calls = tool_calls + ?,
		    input_tokens = input_tokens + ?,
		    cached_input_tokens = cached_input_tokens + ?,
		    output_tokens = output_tokens + ?,
		    updated_at = ?
		WHERE id = ?`,
		turns, toolCalls, u.InputTokens, u.CachedInputTokens, u.OutputTokens,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}
	return nil
}

// AppendText concatenates a delta onto the message's accumulated text,
// creating the message row on first write.
func (s *SQLiteStore) AppendText(ctx context.Context, sessionID, messageID, delta string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, message_id, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO UPDATE SET
		    text = messages.text || excluded.text,
		    updated_at = excluded.updated_at`,
		sessionID, messageID, delta, now, now)
	if err != nil {
		return fmt.Errorf("append text: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendReasoning(ctx context.Context, sessionID, messageID, delta string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, message_id, reasoning, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO UPDATE SET
		    reasoning = messages.reasoning || excluded.reasoning,
		    updated_at = excluded.updated_at`,
		sessionID, messageID, delta, now, now)
	if err != nil {
		return fmt.Errorf("append reasoning: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveToolCalls(ctx context.Context, sessionID, messageID string, calls []stream.ToolCall) error {
	data, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	return s.upsertColumn(ctx, sessionID, messageID, "tool_calls", string(data))
}

func (s *SQLiteStore) SaveSteps(ctx context.Context, sessionID, messageID string, steps []stream.Step) error {
	data, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	return s.upsertColumn(ctx, sessionID, messageID, "steps", string(data))
}

func (s *SQLiteStore) SetStreaming(ctx context.Context, sessionID, messageID string, streaming bool) error {
	return s.upsertColumn(ctx, sessionID, messageID, "streaming", streaming)
}

// UpdateUsage stores the generation's running totals; callers pass totals,
// not deltas, so the write is a plain overwrite.
func (s *SQLiteStore) UpdateUsage(ctx context.Context, sessionID, messageID string, totals llm.Usage) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, message_id, input_tokens, cached_input_tokens, output_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO UPDATE SET
		    input_tokens = excluded.input_tokens,
		    cached_input_tokens = excluded.cached_input_tokens,
		    output_tokens = excluded.output_tokens,
		    updated_at = excluded.updated_at`,
		sessionID, messageID, totals.InputTokens, totals.CachedInputTokens, totals.OutputTokens, now, now)
	if err != nil {
		return fmt.Errorf("update usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) upsertColumn(ctx context.Context, sessionID, messageID, column string, value any) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO messages (session_id, message_id, %s, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO UPDATE SET
		    %s = excluded.%s,
		    updated_at = excluded.updated_at`, column, column, column)
	if _, err := s.db.ExecContext(ctx, query, sessionID, messageID, value, now, now); err != nil {
		return fmt.Errorf("upsert %s: %w", column, err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, sessionID, messageID string) (*MessageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, message_id, text, reasoning, tool_calls, steps, streaming,
		       input_tokens, cached_input_tokens, output_tokens, created_at, updated_at
		FROM messages WHERE session_id = ? AND message_id = ?`, sessionID, messageID)

	rec, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message not found: %s/%s", sessionID, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, message_id, text, reasoning, tool_calls, steps, streaming,
		       input_tokens, cached_input_tokens, output_tokens, created_at, updated_at
		FROM messages WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanMessage(scan func(dest ...any) error) (*MessageRecord, error) {
	var rec MessageRecord
	var toolCalls, steps sql.NullString
	err := scan(&rec.SessionID, &rec.MessageID, &rec.Text, &rec.Reasoning,
		&toolCalls, &steps, &rec.Streaming,
		&rec.Usage.InputTokens, &rec.Usage.CachedInputTokens, &rec.Usage.OutputTokens,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &rec.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &rec.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	return &rec, nil
}
