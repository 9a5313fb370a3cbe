// Package engine drives the turn-based tool-calling loop: it requests
// provider streams, routes chunks to the stream processor, executes
// discovered tool calls, and decides whether to continue, stop, or pause.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/stream"
	"github.com/skeinlabs/skein/internal/tools"
	"github.com/skeinlabs/skein/internal/usage"
)

const (
	defaultMaxTurns = 100

	truncationNotice = "\n\n[Response truncated: the output token limit was reached. Ask to continue for the rest.]"
)

// StreamContext binds one assistant-message generation to its identifiers,
// provider configuration, observers, and running usage totals.
type StreamContext struct {
	SessionID string
	MessageID string

	Provider        llm.Provider
	Model           string
	MaxOutputTokens int
	Temperature     float32

	WorkingDirectory string

	Sink       stream.Sink
	Recorder   stream.Recorder
	Accountant *usage.Accountant
}

// Runner owns the loop's collaborators: the executor boundary that runs
// tools and the registry used to resolve streamed tool names.
type Runner struct {
	Executor tools.Executor
	Registry *tools.Registry

	// MaxTurns caps the loop; zero means the default cap of 100.
	MaxTurns int
}

// Result reports how one generation ended.
type Result struct {
	// PausedForConfirmation is set when an executed call needs an
	// out-of-band decision before further turns may run.
	PausedForConfirmation bool

	// Aborted is set when the abort signal fired mid-generation. An
	// aborted generation is not an error.
	Aborted bool

	// Transcript is the input transcript plus everything this generation
	// appended, usable for resumption.
	Transcript []llm.Message

	Turns int
}

// RunLoop drives one assistant-message generation to completion: it streams
// provider turns, executes tool calls the moment their arguments complete,
// and appends transcript entries between turns. Tool execution overlaps any
// trailing streamed text of the same turn.
func (r *Runner) RunLoop(ctx context.Context, sctx StreamContext, transcript []llm.Message, schemas []llm.ToolSpec) (Result, error) {
	if sctx.Provider == nil {
		return Result{Transcript: transcript}, errors.New("engine: provider is required")
	}
	if r.Executor == nil {
		return Result{Transcript: transcript}, errors.New("engine: executor is required")
	}

	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	sink := sctx.Sink
	if sink == nil {
		sink = stream.NopSink{}
	}
	proc := stream.NewProcessor(sctx.SessionID, sctx.MessageID, r.Registry, sctx.Recorder, sink)

	var res Result
	for turn := 0; turn < maxTurns; turn++ {
		if turn > 0 {
			// Pre-emptive waiting indicator before the next model request.
			sink.Send(stream.Event{Type: stream.EventContinuation, SessionID: sctx.SessionID, MessageID: sctx.MessageID})
		}
		res.Turns = turn + 1

		tr, err := r.runTurn(ctx, sctx, proc, transcript, schemas)
		if err != nil {
			// Transport failure aborts the whole generation but keeps
			// everything already streamed and persisted.
			sink.Send(stream.Event{Type: stream.EventError, SessionID: sctx.SessionID, MessageID: sctx.MessageID, Err: err})
			cancelUnfinished(ctx, proc)
			proc.Finalize(ctx)
			res.Transcript = transcript
			return res, err
		}
		if tr.aborted {
			cancelUnfinished(ctx, proc)
			sink.Send(stream.Event{Type: stream.EventComplete, SessionID: sctx.SessionID, MessageID: sctx.MessageID, Aborted: true})
			proc.Finalize(ctx)
			res.Aborted = true
			res.Transcript = transcript
			return res, nil
		}

		if len(tr.calls) == 0 {
			if tr.finish == llm.FinishTruncated {
				proc.AppendNotice(ctx, truncationNotice)
			}
			if tr.text != "" || tr.reasoning != "" {
				transcript = append(transcript, llm.AssistantMessage(tr.text, tr.reasoning, nil))
			}
			sink.Send(stream.Event{Type: stream.EventComplete, SessionID: sctx.SessionID, MessageID: sctx.MessageID})
			proc.Finalize(ctx)
			res.Transcript = transcript
			return res, nil
		}

		transcript = append(transcript, llm.AssistantMessage(tr.text, tr.reasoning, tr.calls))
		if tr.toolMsg != nil {
			transcript = append(transcript, *tr.toolMsg)
		}

		if tr.paused {
			sink.Send(stream.Event{Type: stream.EventComplete, SessionID: sctx.SessionID, MessageID: sctx.MessageID, PausedForConfirmation: true})
			proc.Finalize(ctx)
			res.PausedForConfirmation = true
			res.Transcript = transcript
			return res, nil
		}
	}

	// Turn cap reached. The loop ends without error; the transcript holds
	// everything produced so far.
	sink.Send(stream.Event{Type: stream.EventComplete, SessionID: sctx.SessionID, MessageID: sctx.MessageID})
	proc.Finalize(ctx)
	res.Transcript = transcript
	return res, nil
}

// turnResult is what one provider turn produced.
type turnResult struct {
	text      string
	reasoning string
	calls     []llm.ToolCall
	toolMsg   *llm.Message
	finish    llm.FinishReason
	paused    bool
	aborted   bool
}

func (r *Runner) runTurn(ctx context.Context, sctx StreamContext, proc *stream.Processor, transcript []llm.Message, schemas []llm.ToolSpec) (turnResult, error) {
	req := llm.Request{
		Model:           sctx.Model,
		Messages:        transcript,
		Tools:           schemas,
		MaxOutputTokens: sctx.MaxOutputTokens,
		Temperature:     sctx.Temperature,
	}
	s, err := sctx.Provider.Stream(ctx, req)
	if err != nil {
		return turnResult{}, err
	}
	defer s.Close()

	exec := newTurnExecutor(ctx, r, sctx, proc)

	var tr turnResult
	var text, reasoning strings.Builder
	var startedOrder []string
	dispatched := make(map[string]bool)

	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			exec.wait()
			tr.text = text.String()
			tr.reasoning = reasoning.String()
			if ctx.Err() != nil {
				tr.aborted = true
				return tr, nil
			}
			return tr, err
		}

		switch chunk.Type {
		case llm.ChunkTextDelta:
			text.WriteString(chunk.Text)
			proc.HandleTextChunk(ctx, chunk)
		case llm.ChunkReasoningDelta:
			reasoning.WriteString(chunk.Text)
			proc.HandleReasoningChunk(ctx, chunk)
		case llm.ChunkToolInputStart:
			startedOrder = append(startedOrder, chunk.ID)
			proc.HandleToolInputStart(ctx, chunk)
		case llm.ChunkToolInputDelta:
			proc.HandleToolInputDelta(ctx, chunk)
		case llm.ChunkToolCall:
			// Execute immediately so tool latency overlaps trailing text.
			call := proc.HandleToolCallChunk(ctx, chunk)
			dispatched[call.ID] = true
			exec.dispatch(call)
		case llm.ChunkFinish:
			tr.finish = chunk.FinishReason
			if chunk.Usage != nil && sctx.Accountant != nil {
				sctx.Accountant.AddTurn(*chunk.Usage)
				proc.RecordUsage(ctx, sctx.Accountant.Totals())
			}
		}
	}

	// Streaming blocks that never produced a complete tool-call chunk get
	// their buffered input parsed now; unparseable input drops the call.
	for _, id := range startedOrder {
		if dispatched[id] {
			continue
		}
		call, ok := proc.HandleToolInputEnd(id)
		if !ok {
			proc.CancelCall(ctx, id)
			fmt.Fprintf(os.Stderr, "warning: dropping tool call %s: incomplete arguments\n", id)
			continue
		}
		call = proc.HandleToolCallChunk(ctx, llm.Chunk{Type: llm.ChunkToolCall, ID: call.ID, Name: call.ToolID, Args: call.Arguments})
		dispatched[id] = true
		exec.dispatch(call)
	}

	out := exec.wait()
	tr.text = text.String()
	tr.reasoning = reasoning.String()
	tr.calls = out.calls
	tr.paused = out.paused
	if len(out.parts) > 0 {
		tr.toolMsg = &llm.Message{Role: llm.RoleTool, Parts: out.parts}
	}
	if ctx.Err() != nil {
		tr.aborted = true
	}
	return tr, nil
}

// cancelUnfinished marks every non-terminal tracked call cancelled.
func cancelUnfinished(ctx context.Context, proc *stream.Processor) {
	for _, call := range proc.Calls() {
		if !call.Status.Terminal() {
			proc.CancelCall(ctx, call.ID)
		}
	}
}

// execOutcome collects what the worker produced, in discovery order.
type execOutcome struct {
	calls  []llm.ToolCall
	parts  []llm.Part
	paused bool
}

// turnExecutor runs tool calls sequentially on a worker goroutine while the
// main goroutine keeps consuming the provider stream.
type turnExecutor struct {
	runner *Runner
	sctx   StreamContext
	proc   *stream.Processor
	ch     chan stream.ToolCall
	done   chan struct{}
	out    execOutcome
}

func newTurnExecutor(ctx context.Context, r *Runner, sctx StreamContext, proc *stream.Processor) *turnExecutor {
	e := &turnExecutor{
		runner: r,
		sctx:   sctx,
		proc:   proc,
		ch:     make(chan stream.ToolCall, 16),
		done:   make(chan struct{}),
	}
	go e.run(ctx)
	return e
}

func (e *turnExecutor) dispatch(call stream.ToolCall) {
	e.ch <- call
}

// wait closes the dispatch channel and blocks until the worker drains it.
func (e *turnExecutor) wait() execOutcome {
	close(e.ch)
	<-e.done
	return e.out
}

func (e *turnExecutor) run(ctx context.Context) {
	defer close(e.done)
	for call := range e.ch {
		e.out.calls = append(e.out.calls, llm.ToolCall{ID: call.ID, Name: call.ToolID, Arguments: call.Arguments})
		if ctx.Err() != nil {
			e.proc.CancelCall(ctx, call.ID)
			continue
		}
		e.executeOne(ctx, call)
	}
}

func (e *turnExecutor) executeOne(ctx context.Context, call stream.ToolCall) {
	e.proc.StartExecution(ctx, call.ID)

	res, err := e.runner.Executor.Execute(ctx, call.ToolID, call.Arguments, tools.ExecContext{
		SessionID:        e.sctx.SessionID,
		MessageID:        e.sctx.MessageID,
		CallID:           call.ID,
		WorkingDirectory: e.sctx.WorkingDirectory,
	})
	if err != nil {
		if ctx.Err() != nil {
			e.proc.CancelCall(ctx, call.ID)
			return
		}
		e.proc.FailCall(ctx, call.ID, err.Error())
		e.out.parts = append(e.out.parts, errorResultPart(call, err.Error()))
		return
	}
	if res.Error != "" {
		e.proc.FailCall(ctx, call.ID, res.Error)
		e.out.parts = append(e.out.parts, errorResultPart(call, res.Error))
		return
	}

	e.proc.CompleteCall(ctx, call.ID, res.Data, res.RequiresConfirmation)
	if res.RequiresConfirmation {
		e.out.paused = true
	}
	e.out.parts = append(e.out.parts, llm.Part{
		Type: llm.PartToolResult,
		ToolResult: &llm.ToolResult{
			ID:      call.ID,
			Name:    call.ToolID,
			Content: res.Data,
		},
	})
}

// errorResultPart wraps a failure as a structured tool result so the model
// can adapt instead of the generation failing.
func errorResultPart(call stream.ToolCall, errText string) llm.Part {
	payload, _ := json.Marshal(map[string]string{"error": errText})
	return llm.Part{
		Type: llm.PartToolResult,
		ToolResult: &llm.ToolResult{
			ID:      call.ID,
			Name:    call.ToolID,
			Content: string(payload),
			IsError: true,
		},
	}
}
