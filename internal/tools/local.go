package tools

import (
	"context"
	"encoding/json"
)

// Tool is a locally implemented executable tool.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, args json.RawMessage, ec ExecContext) (Result, error)
}

// LocalExecutor multiplexes execution across registered local tools, with
// an optional fallback for ids it does not own (namespaced MCP tools).
type LocalExecutor struct {
	tools    map[string]Tool
	fallback Executor
}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{tools: make(map[string]Tool)}
}

// Register adds a local tool and returns its descriptor for registry use.
func (e *LocalExecutor) Register(t Tool) Descriptor {
	d := t.Descriptor()
	e.tools[d.ID] = t
	return d
}

// SetFallback routes unknown ids to another executor.
func (e *LocalExecutor) SetFallback(fallback Executor) {
	e.fallback = fallback
}

// Execute runs the tool for toolID. An unknown id is a failed result, not
// a hard error, so one bad call never aborts the generation.
func (e *LocalExecutor) Execute(ctx context.Context, toolID string, args json.RawMessage, ec ExecContext) (Result, error) {
	if tool, ok := e.tools[toolID]; ok {
		return tool.Execute(ctx, args, ec)
	}
	if e.fallback != nil {
		return e.fallback.Execute(ctx, toolID, args, ec)
	}
	return ErrorResult("tool not registered: %s", toolID), nil
}
