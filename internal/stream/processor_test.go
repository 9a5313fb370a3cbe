package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/tools"
)

type mockSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *mockSink) Send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *mockSink) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *mockSink) chunks(ct llm.ChunkType) []llm.Chunk {
	var out []llm.Chunk
	for _, e := range s.ofType(EventChunk) {
		if e.Chunk != nil && e.Chunk.Type == ct {
			out = append(out, *e.Chunk)
		}
	}
	return out
}

type mockRecorder struct {
	mu        sync.Mutex
	text      string
	reasoning string
	calls     []ToolCall
	steps     []Step
	streaming *bool
	usage     *llm.Usage
}

func (r *mockRecorder) AppendText(ctx context.Context, sessionID, messageID, delta string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text += delta
	return nil
}

func (r *mockRecorder) AppendReasoning(ctx context.Context, sessionID, messageID, delta string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasoning += delta
	return nil
}

func (r *mockRecorder) SaveToolCalls(ctx context.Context, sessionID, messageID string, calls []ToolCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = calls
	return nil
}

func (r *mockRecorder) SaveSteps(ctx context.Context, sessionID, messageID string, steps []Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = steps
	return nil
}

func (r *mockRecorder) SetStreaming(ctx context.Context, sessionID, messageID string, streaming bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = &streaming
	return nil
}

func (r *mockRecorder) UpdateUsage(ctx context.Context, sessionID, messageID string, totals llm.Usage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = &totals
	return nil
}

func newTestProcessor() (*Processor, *mockSink, *mockRecorder) {
	reg := tools.NewRegistry()
	reg.Register(tools.Descriptor{
		ID: "bash", Name: "bash", DisplayName: "Bash", Kind: tools.KindCommand,
		Schema: map[string]any{"type": "object", "properties": map[string]any{"command": map[string]any{"type": "string"}}},
	})
	reg.Register(tools.Descriptor{
		ID: "notes__search", Name: "search", DisplayName: "Notes", Kind: tools.KindToolCall,
		Schema: map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
	})
	sink := &mockSink{}
	rec := &mockRecorder{}
	return NewProcessor("sess", "msg", reg, rec, sink), sink, rec
}

func TestProcessorTextAccumulation(t *testing.T) {
	proc, sink, rec := newTestProcessor()
	ctx := context.Background()

	proc.HandleTextChunk(ctx, llm.Chunk{Type: llm.ChunkTextDelta, Text: "Hello, "})
	proc.HandleTextChunk(ctx, llm.Chunk{Type: llm.ChunkTextDelta, Text: "world"})
	proc.HandleReasoningChunk(ctx, llm.Chunk{Type: llm.ChunkReasoningDelta, Text: "thinking"})

	if got := proc.Text(); got != "Hello, world" {
		t.Errorf("Text() = %q", got)
	}
	if got := proc.Reasoning(); got != "thinking" {
		t.Errorf("Reasoning() = %q", got)
	}
	if rec.text != "Hello, world" || rec.reasoning != "thinking" {
		t.Errorf("recorder saw text=%q reasoning=%q", rec.text, rec.reasoning)
	}
	if got := len(sink.chunks(llm.ChunkTextDelta)); got != 2 {
		t.Errorf("expected 2 text chunk events, got %d", got)
	}
}

func TestProcessorStreamingToolInput(t *testing.T) {
	proc, sink, _ := newTestProcessor()
	ctx := context.Background()

	proc.HandleToolInputStart(ctx, llm.Chunk{Type: llm.ChunkToolInputStart, ID: "call_1", Name: "bash"})
	proc.HandleToolInputDelta(ctx, llm.Chunk{Type: llm.ChunkToolInputDelta, ID: "call_1", Text: `{"command":`})
	proc.HandleToolInputDelta(ctx, llm.Chunk{Type: llm.ChunkToolInputDelta, ID: "call_1", Text: ` "ls"}`})

	call, ok := proc.HandleToolInputEnd("call_1")
	if !ok {
		t.Fatal("complete buffered JSON should finalize the call")
	}
	if string(call.Arguments) != `{"command": "ls"}` {
		t.Errorf("unexpected arguments: %s", call.Arguments)
	}
	if call.ToolID != "bash" || call.DisplayName != "Bash" {
		t.Errorf("name not resolved: %+v", call)
	}
	if call.Status != StatusInputStreaming {
		t.Errorf("input end must not advance status, got %s", call.Status)
	}

	added := sink.ofType(EventStepAdded)
	if len(added) != 1 || added[0].Step.Type != tools.KindCommand {
		t.Fatalf("expected one command step, got %+v", added)
	}
}

func TestProcessorToolInputEndInvalidJSON(t *testing.T) {
	proc, _, _ := newTestProcessor()
	ctx := context.Background()

	proc.HandleToolInputStart(ctx, llm.Chunk{Type: llm.ChunkToolInputStart, ID: "call_1", Name: "bash"})
	proc.HandleToolInputDelta(ctx, llm.Chunk{Type: llm.ChunkToolInputDelta, ID: "call_1", Text: `{"command": "ls`})

	if _, ok := proc.HandleToolInputEnd("call_1"); ok {
		t.Fatal("truncated JSON must not finalize the call")
	}
	if _, ok := proc.HandleToolInputEnd("missing"); ok {
		t.Fatal("unknown id must report false")
	}
	// The call stays tracked for a later complete tool-call chunk.
	if _, ok := proc.Call("call_1"); !ok {
		t.Fatal("call should remain tracked after a parse failure")
	}
	if got := len(proc.Calls()); got != 1 {
		t.Fatalf("expected 1 tracked call, got %d", got)
	}
}

func TestProcessorToolCallChunkEmitsOnce(t *testing.T) {
	proc, sink, rec := newTestProcessor()
	ctx := context.Background()

	args := json.RawMessage(`{"command": "ls"}`)
	call := proc.HandleToolCallChunk(ctx, llm.Chunk{Type: llm.ChunkToolCall, ID: "call_1", Name: "bash", Args: args})
	if call.Status != StatusPending {
		t.Errorf("expected pending, got %s", call.Status)
	}
	// A duplicate chunk for the same id must not re-emit.
	proc.HandleToolCallChunk(ctx, llm.Chunk{Type: llm.ChunkToolCall, ID: "call_1", Name: "bash", Args: args})

	emitted := sink.chunks(llm.ChunkToolCall)
	if len(emitted) != 1 {
		t.Fatalf("canonical tool-call chunk should be emitted exactly once, got %d", len(emitted))
	}
	if emitted[0].Name != "bash" || string(emitted[0].Args) != string(args) {
		t.Errorf("unexpected canonical chunk: %+v", emitted[0])
	}
	if len(rec.calls) != 1 || len(rec.steps) != 1 {
		t.Errorf("recorder should hold 1 call and 1 step, got %d/%d", len(rec.calls), len(rec.steps))
	}
}

func TestProcessorToolCallChunkUsesBufferedArgs(t *testing.T) {
	proc, _, _ := newTestProcessor()
	ctx := context.Background()

	proc.HandleToolInputStart(ctx, llm.Chunk{Type: llm.ChunkToolInputStart, ID: "call_1", Name: "bash"})
	proc.HandleToolInputDelta(ctx, llm.Chunk{Type: llm.ChunkToolInputDelta, ID: "call_1", Text: `{"command": "pwd"}`})

	// Some providers close the block without repeating the payload.
	call := proc.HandleToolCallChunk(ctx, llm.Chunk{Type: llm.ChunkToolCall, ID: "call_1", Name: "bash"})
	if string(call.Arguments) != `{"command": "pwd"}` {
		t.Errorf("buffered arguments should back an empty payload, got %s", call.Arguments)
	}
	if call.ArgumentsText != "" {
		t.Errorf("partial text should be cleared once arguments are final, got %q", call.ArgumentsText)
	}
}

func TestProcessorShortNameResolution(t *testing.T) {
	proc, _, _ := newTestProcessor()
	ctx := context.Background()

	call := proc.HandleToolCallChunk(ctx, llm.Chunk{
		Type: llm.ChunkToolCall, ID: "call_1", Name: "search",
		Args: json.RawMessage(`{"query": "go"}`),
	})
	if call.ToolID != "notes__search" {
		t.Errorf("short name should resolve to namespaced id, got %s", call.ToolID)
	}

	// Unknown names pass through untouched.
	call = proc.HandleToolCallChunk(ctx, llm.Chunk{
		Type: llm.ChunkToolCall, ID: "call_2", Name: "mystery", Args: json.RawMessage(`{}`),
	})
	if call.ToolID != "mystery" {
		t.Errorf("unknown name should be kept as-is, got %s", call.ToolID)
	}
}

func TestProcessorStatusForwardOnly(t *testing.T) {
	proc, _, _ := newTestProcessor()
	ctx := context.Background()

	proc.HandleToolCallChunk(ctx, llm.Chunk{Type: llm.ChunkToolCall, ID: "call_1", Name: "bash", Args: json.RawMessage(`{}`)})
	proc.StartExecution(ctx, "call_1")
	proc.CompleteCall(ctx, "call_1", "ok", false)

	// Terminal states never regress.
	proc.CancelCall(ctx, "call_1")
	proc.StartExecution(ctx, "call_1")

	call, _ := proc.Call("call_1")
	if call.Status != StatusCompleted {
		t.Errorf("completed call must stay completed, got %s", call.Status)
	}
	if call.Result != "ok" {
		t.Errorf("unexpected result: %q", call.Result)
	}
}

func TestProcessorFailAndCancel(t *testing.T) {
	proc, _, _ := newTestProcessor()
	ctx := context.Background()

	proc.HandleToolCallChunk(ctx, llm.Chunk{Type: llm.ChunkToolCall, ID: "call_1", Name: "bash", Args: json.RawMessage(`{}`)})
	proc.FailCall(ctx, "call_1", "exit status 1")

	call, _ := proc.Call("call_1")
	if call.Status != StatusFailed || call.Error != "exit status 1" {
		t.Errorf("unexpected failed call: %+v", call)
	}

	proc.HandleToolInputStart(ctx, llm.Chunk{Type: llm.ChunkToolInputStart, ID: "call_2", Name: "bash"})
	proc.CancelCall(ctx, "call_2")
	call, _ = proc.Call("call_2")
	if call.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", call.Status)
	}
	if !call.Status.Terminal() {
		t.Error("cancelled must be terminal")
	}
}

func TestProcessorAppendNoticeAndFinalize(t *testing.T) {
	proc, sink, rec := newTestProcessor()
	ctx := context.Background()

	proc.HandleTextChunk(ctx, llm.Chunk{Type: llm.ChunkTextDelta, Text: "partial answer"})
	proc.AppendNotice(ctx, "\n\n[notice]")
	proc.RecordUsage(ctx, llm.Usage{InputTokens: 12, OutputTokens: 34})
	proc.Finalize(ctx)

	if got := proc.Text(); got != "partial answer\n\n[notice]" {
		t.Errorf("Text() = %q", got)
	}
	if rec.usage == nil || rec.usage.InputTokens != 12 || rec.usage.OutputTokens != 34 {
		t.Errorf("usage not recorded: %+v", rec.usage)
	}
	if rec.streaming == nil || *rec.streaming {
		t.Error("finalize should mark the message not streaming")
	}
	if got := len(sink.chunks(llm.ChunkTextDelta)); got != 2 {
		t.Errorf("notice should emit a text chunk, got %d text events", got)
	}
}
