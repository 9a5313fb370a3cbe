package session

import (
	"context"
	"fmt"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/stream"
)

// NoopStore discards all writes. Used when persistence is disabled.
type NoopStore struct{}

func (NoopStore) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	return nil
}

func (NoopStore) GetSession(ctx context.Context, id string) (*Session, error) {
	return nil, fmt.Errorf("session not found: %s", id)
}

func (NoopStore) ListSessions(ctx context.Context, limit int) ([]Session, error) { return nil, nil }
func (NoopStore) DeleteSession(ctx context.Context, id string) error             { return nil }

func (NoopStore) UpdateMetrics(ctx context.Context, id string, turns, toolCalls int, u llm.Usage) error {
	return nil
}

func (NoopStore) GetMessage(ctx context.Context, sessionID, messageID string) (*MessageRecord, error) {
	return nil, fmt.Errorf("message not found: %s/%s", sessionID, messageID)
}

func (NoopStore) ListMessages(ctx context.Context, sessionID string) ([]MessageRecord, error) {
	return nil, nil
}

func (NoopStore) AppendText(ctx context.Context, sessionID, messageID, delta string) error { return nil }
func (NoopStore) AppendReasoning(ctx context.Context, sessionID, messageID, delta string) error {
	return nil
}
func (NoopStore) SaveToolCalls(ctx context.Context, sessionID, messageID string, calls []stream.ToolCall) error {
	return nil
}
func (NoopStore) SaveSteps(ctx context.Context, sessionID, messageID string, steps []stream.Step) error {
	return nil
}
func (NoopStore) SetStreaming(ctx context.Context, sessionID, messageID string, streaming bool) error {
	return nil
}
func (NoopStore) UpdateUsage(ctx context.Context, sessionID, messageID string, totals llm.Usage) error {
	return nil
}

func (NoopStore) Close() error { return nil }
