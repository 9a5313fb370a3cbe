// Package stream converts heterogeneous provider chunks into accumulated
// message state and incremental observer events. It owns the ToolCall and
// Step models tracked through one assistant-message generation.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/tools"
)

// Status is the tool-call lifecycle. It only ever advances.
type Status string

const (
	StatusInputStreaming Status = "input-streaming"
	StatusPending        Status = "pending"
	StatusExecuting      Status = "executing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusInputStreaming: 0,
	StatusPending:        1,
	StatusExecuting:      2,
	StatusCompleted:      3,
	StatusFailed:         3,
	StatusCancelled:      3,
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return statusRank[s] == 3
}

// canAdvance reports whether a transition moves strictly forward.
func (s Status) canAdvance(next Status) bool {
	return statusRank[next] > statusRank[s]
}

// ToolCall tracks one tool invocation across its lifecycle.
type ToolCall struct {
	ID          string
	ToolID      string
	DisplayName string

	// Arguments holds the complete parsed payload; ArgumentsText mirrors
	// the raw partial text while input is still streaming.
	Arguments     json.RawMessage
	ArgumentsText string

	Status               Status
	Result               string
	Error                string
	RequiresConfirmation bool
}

// Step is the UI-facing projection of one ToolCall: created at
// input-streaming time, mutated until it reaches a terminal state.
type Step struct {
	ID         string
	CallID     string
	Type       tools.Kind
	Title      string
	Preview    string
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
	Usage      *llm.Usage
}

// EventType labels observer events.
type EventType string

const (
	EventStepAdded    EventType = "step-added"
	EventStepUpdated  EventType = "step-updated"
	EventChunk        EventType = "stream-chunk"
	EventContinuation EventType = "continuation"
	EventComplete     EventType = "stream-complete"
	EventError        EventType = "stream-error"
)

// Event is one observer update.
type Event struct {
	Type      EventType
	SessionID string
	MessageID string

	Chunk *llm.Chunk
	Step  *Step
	Call  *ToolCall
	Err   error

	// Completion qualifiers for EventComplete.
	Aborted               bool
	PausedForConfirmation bool
}

// Sink receives observer events in emission order.
type Sink interface {
	Send(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Send(Event) {}

// Recorder persists accumulated message state for a (session, message)
// pair. Implementations tolerate repeated appends; failures are surfaced
// to the caller and treated as non-fatal.
type Recorder interface {
	AppendText(ctx context.Context, sessionID, messageID, delta string) error
	AppendReasoning(ctx context.Context, sessionID, messageID, delta string) error
	SaveToolCalls(ctx context.Context, sessionID, messageID string, calls []ToolCall) error
	SaveSteps(ctx context.Context, sessionID, messageID string, steps []Step) error
	SetStreaming(ctx context.Context, sessionID, messageID string, streaming bool) error
	UpdateUsage(ctx context.Context, sessionID, messageID string, totals llm.Usage) error
}
