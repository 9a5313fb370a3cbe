// Package testutil provides scripted providers and recording executors for
// engine and stream tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/tools"
)

// MockProvider replays scripted turns: each call to Stream consumes the
// next chunk script. An exhausted provider yields an empty final turn.
type MockProvider struct {
	mu       sync.Mutex
	turns    [][]llm.Chunk
	errs     []error
	Requests []llm.Request
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// AddTurn scripts one streamed turn.
func (p *MockProvider) AddTurn(chunks ...llm.Chunk) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, chunks)
	p.errs = append(p.errs, nil)
	return p
}

// AddErrorTurn scripts a turn whose stream fails after the given chunks.
func (p *MockProvider) AddErrorTurn(err error, chunks ...llm.Chunk) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, chunks)
	p.errs = append(p.errs, err)
	return p
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	var chunks []llm.Chunk
	var err error
	if len(p.turns) > 0 {
		chunks = p.turns[0]
		err = p.errs[0]
		p.turns = p.turns[1:]
		p.errs = p.errs[1:]
	} else {
		chunks = []llm.Chunk{{Type: llm.ChunkFinish, FinishReason: llm.FinishStop}}
	}
	p.mu.Unlock()

	return llm.NewChunkStream(ctx, func(ctx context.Context, out chan<- llm.Chunk) error {
		for _, chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return err
	}), nil
}

// TurnCount returns how many streams were requested.
func (p *MockProvider) TurnCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// MockExecution records one executor invocation.
type MockExecution struct {
	ToolID string
	Args   json.RawMessage
	Ctx    tools.ExecContext
}

// MockExecutor returns scripted results per tool id and records every call.
type MockExecutor struct {
	mu      sync.Mutex
	results map[string]tools.Result
	errs    map[string]error
	calls   []MockExecution
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		results: make(map[string]tools.Result),
		errs:    make(map[string]error),
	}
}

// SetResult scripts the result for a tool id.
func (e *MockExecutor) SetResult(toolID string, res tools.Result) *MockExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[toolID] = res
	return e
}

// SetError scripts a hard execution error for a tool id.
func (e *MockExecutor) SetError(toolID string, err error) *MockExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[toolID] = err
	return e
}

func (e *MockExecutor) Execute(ctx context.Context, toolID string, args json.RawMessage, ec tools.ExecContext) (tools.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, MockExecution{ToolID: toolID, Args: args, Ctx: ec})
	if err, ok := e.errs[toolID]; ok {
		return tools.Result{}, err
	}
	if res, ok := e.results[toolID]; ok {
		return res, nil
	}
	return tools.Result{Success: true, Data: "ok"}, nil
}

// Calls returns the recorded invocations in order.
func (e *MockExecutor) Calls() []MockExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MockExecution, len(e.calls))
	copy(out, e.calls)
	return out
}
