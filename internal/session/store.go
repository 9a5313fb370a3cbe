// Package session persists sessions and their accumulated assistant
// messages. The SQLite store doubles as the stream recorder so message
// state survives aborts and partial failure.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/stream"
)

// Session is one conversation with its accumulated metrics.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CWD       string    `json:"cwd,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Metrics accumulate across generations.
	Turns             int `json:"turns,omitempty"`
	ToolCalls         int `json:"tool_calls,omitempty"`
	InputTokens       int `json:"input_tokens,omitempty"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens,omitempty"`
}

// MessageRecord is one assistant message's persisted state for a
// (session, message) pair.
type MessageRecord struct {
	SessionID string            `json:"session_id"`
	MessageID string            `json:"message_id"`
	Text      string            `json:"text"`
	Reasoning string            `json:"reasoning,omitempty"`
	ToolCalls []stream.ToolCall `json:"tool_calls,omitempty"`
	Steps     []stream.Step     `json:"steps,omitempty"`
	Streaming bool              `json:"streaming"`
	Usage     llm.Usage         `json:"usage"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store is the persistence contract. It embeds the stream recorder so one
// handle serves both session CRUD and incremental message saving.
type Store interface {
	stream.Recorder

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error

	// UpdateMetrics adds one generation's turn count, tool-call count and
	// usage onto the session's running totals.
	UpdateMetrics(ctx context.Context, id string, turns, toolCalls int, u llm.Usage) error

	GetMessage(ctx context.Context, sessionID, messageID string) (*MessageRecord, error)
	ListMessages(ctx context.Context, sessionID string) ([]MessageRecord, error)

	Close() error
}

// NewID returns a fresh session or message identifier.
func NewID() string {
	return uuid.NewString()
}

// DataDir returns the data directory, honoring $XDG_DATA_HOME.
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "skein"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "skein"), nil
}

// DBPath returns the path to the sessions database.
func DBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}
