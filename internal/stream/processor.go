package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/tools"
)

// Processor accumulates one assistant message from provider chunks. It
// supports atomic tool calls (arguments arrive whole) and streaming ones
// (arguments arrive as incremental text, buffered and parsed at the end).
//
// A Processor belongs to a single generation. Chunk handling and tool
// execution updates may arrive from different goroutines, so state is
// guarded by a mutex.
type Processor struct {
	mu sync.Mutex

	sessionID string
	messageID string
	registry  *tools.Registry
	rec       Recorder
	sink      Sink

	text      strings.Builder
	reasoning strings.Builder

	buffers map[string]*strings.Builder
	calls   map[string]*ToolCall
	steps   map[string]*Step
	order   []string

	// emitted tracks which call ids already produced their canonical
	// tool-call event; it is emitted exactly once per call.
	emitted map[string]bool
}

func NewProcessor(sessionID, messageID string, registry *tools.Registry, rec Recorder, sink Sink) *Processor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Processor{
		sessionID: sessionID,
		messageID: messageID,
		registry:  registry,
		rec:       rec,
		sink:      sink,
		buffers:   make(map[string]*strings.Builder),
		calls:     make(map[string]*ToolCall),
		steps:     make(map[string]*Step),
		emitted:   make(map[string]bool),
	}
}

// HandleTextChunk appends a text delta, persists it, and emits it.
func (p *Processor) HandleTextChunk(ctx context.Context, chunk llm.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendText(ctx, chunk)
}

func (p *Processor) appendText(ctx context.Context, chunk llm.Chunk) {
	p.text.WriteString(chunk.Text)
	if p.rec != nil {
		p.warn(p.rec.AppendText(ctx, p.sessionID, p.messageID, chunk.Text))
	}
	p.emitChunk(chunk)
}

// HandleReasoningChunk appends a reasoning delta, persists it, and emits it.
func (p *Processor) HandleReasoningChunk(ctx context.Context, chunk llm.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reasoning.WriteString(chunk.Text)
	if p.rec != nil {
		p.warn(p.rec.AppendReasoning(ctx, p.sessionID, p.messageID, chunk.Text))
	}
	p.emitChunk(chunk)
}

// HandleToolInputStart registers a placeholder call and its Step when a
// streaming tool-use block opens. The possibly-short name is resolved to a
// canonical id; an unknown name is kept as-is.
func (p *Processor) HandleToolInputStart(ctx context.Context, chunk llm.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.calls[chunk.ID]; exists {
		return
	}

	toolID, display, kind := p.resolveName(chunk.Name, nil)
	call := &ToolCall{
		ID:          chunk.ID,
		ToolID:      toolID,
		DisplayName: display,
		Status:      StatusInputStreaming,
	}
	step := &Step{
		ID:        chunk.ID,
		CallID:    chunk.ID,
		Type:      kind,
		Title:     display,
		Status:    StatusInputStreaming,
		StartedAt: time.Now(),
	}

	p.calls[chunk.ID] = call
	p.steps[chunk.ID] = step
	p.order = append(p.order, chunk.ID)
	p.persistCalls(ctx)

	p.sink.Send(Event{Type: EventStepAdded, SessionID: p.sessionID, MessageID: p.messageID, Step: snapshotStep(step)})
	p.emitChunk(chunk)
}

// HandleToolInputDelta buffers incremental argument text for a call and
// mirrors the partial payload onto the tracked ToolCall and Step.
func (p *Processor) HandleToolInputDelta(ctx context.Context, chunk llm.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[chunk.ID]
	if !ok {
		return
	}

	buf := p.buffers[chunk.ID]
	if buf == nil {
		buf = &strings.Builder{}
		p.buffers[chunk.ID] = buf
	}
	buf.WriteString(chunk.Text)

	call.ArgumentsText = buf.String()
	if step, ok := p.steps[chunk.ID]; ok {
		step.Preview = call.ArgumentsText
		p.sink.Send(Event{Type: EventStepUpdated, SessionID: p.sessionID, MessageID: p.messageID, Step: snapshotStep(step)})
	}
	p.emitChunk(chunk)
}

// HandleToolInputEnd parses the buffered argument text. A parse failure is
// non-fatal and reports false: a later complete tool-call chunk may supersede
// the buffered input, and no duplicate call is registered either way.
func (p *Processor) HandleToolInputEnd(id string) (ToolCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if !ok {
		return ToolCall{}, false
	}
	buf, ok := p.buffers[id]
	if !ok || buf.Len() == 0 {
		return ToolCall{}, false
	}
	if !json.Valid([]byte(buf.String())) {
		return ToolCall{}, false
	}
	call.Arguments = json.RawMessage(buf.String())
	return *call, true
}

// HandleToolCallChunk finalizes (or creates) the canonical ToolCall with
// resolved id, name and complete arguments, advancing it to pending. The
// canonical tool-call event is emitted exactly once per call id.
func (p *Processor) HandleToolCallChunk(ctx context.Context, chunk llm.Chunk) ToolCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	args := chunk.Args

	call, exists := p.calls[chunk.ID]
	if !exists {
		toolID, display, kind := p.resolveName(chunk.Name, args)
		call = &ToolCall{
			ID:          chunk.ID,
			ToolID:      toolID,
			DisplayName: display,
		}
		step := &Step{
			ID:        chunk.ID,
			CallID:    chunk.ID,
			Type:      kind,
			Title:     display,
			StartedAt: time.Now(),
		}
		p.calls[chunk.ID] = call
		p.steps[chunk.ID] = step
		p.order = append(p.order, chunk.ID)
		p.sink.Send(Event{Type: EventStepAdded, SessionID: p.sessionID, MessageID: p.messageID, Step: snapshotStep(step)})
	} else if chunk.Name != "" && call.ToolID != chunk.Name {
		// Re-resolve now that the complete arguments can narrow the lookup.
		toolID, display, _ := p.resolveName(chunk.Name, args)
		call.ToolID = toolID
		call.DisplayName = display
	}

	if len(args) == 0 {
		if buf, ok := p.buffers[chunk.ID]; ok && json.Valid([]byte(buf.String())) {
			args = json.RawMessage(buf.String())
		}
	}
	call.Arguments = args
	call.ArgumentsText = ""
	p.advance(call, StatusPending)
	p.updateStep(call)
	p.persistCalls(ctx)

	if !p.emitted[chunk.ID] {
		p.emitted[chunk.ID] = true
		canonical := llm.Chunk{Type: llm.ChunkToolCall, ID: call.ID, Name: call.ToolID, Args: call.Arguments}
		p.emitChunk(canonical)
	}
	return *call
}

// StartExecution advances a call to executing.
func (p *Processor) StartExecution(ctx context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if !ok {
		return
	}
	p.advance(call, StatusExecuting)
	p.updateStep(call)
	p.persistCalls(ctx)
}

// CompleteCall records a successful result.
func (p *Processor) CompleteCall(ctx context.Context, id, result string, requiresConfirmation bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if !ok {
		return
	}
	call.Result = result
	call.RequiresConfirmation = requiresConfirmation
	p.advance(call, StatusCompleted)
	p.updateStep(call)
	p.persistCalls(ctx)
}

// FailCall records a failed result. The failure becomes the call's result;
// it never aborts the generation.
func (p *Processor) FailCall(ctx context.Context, id, errText string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if !ok {
		return
	}
	call.Error = errText
	p.advance(call, StatusFailed)
	p.updateStep(call)
	p.persistCalls(ctx)
}

// CancelCall marks a call cancelled after an abort.
func (p *Processor) CancelCall(ctx context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if !ok {
		return
	}
	p.advance(call, StatusCancelled)
	p.updateStep(call)
	p.persistCalls(ctx)
}

// AppendNotice appends visible text outside the provider stream, such as
// the truncation notice.
func (p *Processor) AppendNotice(ctx context.Context, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendText(ctx, llm.Chunk{Type: llm.ChunkTextDelta, Text: text})
}

// RecordUsage persists the generation's accumulated usage and attaches the
// turn usage to this generation's steps.
func (p *Processor) RecordUsage(ctx context.Context, totals llm.Usage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec != nil {
		p.warn(p.rec.UpdateUsage(ctx, p.sessionID, p.messageID, totals))
	}
}

// Finalize marks the message no longer streaming.
func (p *Processor) Finalize(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec != nil {
		p.warn(p.rec.SetStreaming(ctx, p.sessionID, p.messageID, false))
	}
}

// Text returns the accumulated text channel.
func (p *Processor) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text.String()
}

// Reasoning returns the accumulated reasoning channel.
func (p *Processor) Reasoning() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reasoning.String()
}

// Call returns a snapshot of the tracked call for an id.
func (p *Processor) Call(id string) (ToolCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if !ok {
		return ToolCall{}, false
	}
	return *call, true
}

// Calls returns snapshots of tracked calls in discovery order.
func (p *Processor) Calls() []ToolCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ToolCall, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.calls[id])
	}
	return out
}

// resolveName maps a possibly-short tool name to (canonical id, display
// name, step kind), falling back to the raw name when nothing matches.
func (p *Processor) resolveName(name string, argsHint json.RawMessage) (string, string, tools.Kind) {
	if p.registry == nil {
		return name, name, tools.KindToolCall
	}
	d, ok := p.registry.Resolve(name, argsHint)
	if !ok {
		return name, name, tools.KindToolCall
	}
	display := d.DisplayName
	if display == "" {
		display = d.ID
	}
	kind := d.Kind
	if kind == "" {
		kind = tools.KindToolCall
	}
	return d.ID, display, kind
}

func (p *Processor) advance(call *ToolCall, next Status) {
	if call.Status == "" {
		call.Status = next
		return
	}
	if call.Status.canAdvance(next) {
		call.Status = next
	}
}

func (p *Processor) updateStep(call *ToolCall) {
	step, ok := p.steps[call.ID]
	if !ok {
		return
	}
	step.Status = call.Status
	if call.Status.Terminal() && step.FinishedAt.IsZero() {
		step.FinishedAt = time.Now()
	}
	p.sink.Send(Event{Type: EventStepUpdated, SessionID: p.sessionID, MessageID: p.messageID, Step: snapshotStep(step)})
}

func (p *Processor) persistCalls(ctx context.Context) {
	if p.rec == nil {
		return
	}
	calls := make([]ToolCall, 0, len(p.order))
	steps := make([]Step, 0, len(p.order))
	for _, id := range p.order {
		calls = append(calls, *p.calls[id])
		steps = append(steps, *p.steps[id])
	}
	p.warn(p.rec.SaveToolCalls(ctx, p.sessionID, p.messageID, calls))
	p.warn(p.rec.SaveSteps(ctx, p.sessionID, p.messageID, steps))
}

func (p *Processor) emitChunk(chunk llm.Chunk) {
	c := chunk
	p.sink.Send(Event{Type: EventChunk, SessionID: p.sessionID, MessageID: p.messageID, Chunk: &c})
}

func (p *Processor) warn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: persist message state: %v\n", err)
	}
}

func snapshotStep(step *Step) *Step {
	copied := *step
	return &copied
}
