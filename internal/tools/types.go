// Package tools provides the tool registry, the executor boundary the loop
// drives, and the permission-aware local tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind categorizes tools for UI step projection.
type Kind string

const (
	KindCommand   Kind = "command"
	KindFileRead  Kind = "file-read"
	KindFileWrite Kind = "file-write"
	KindToolCall  Kind = "tool-call"
)

// Descriptor is a typed tool entry keyed by canonical id. Namespaced tools
// encode their owning server as "server__tool" and carry the server's
// configured name as DisplayName.
type Descriptor struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	Kind        Kind
	Schema      map[string]any

	// AliasFor redirects resolution to another canonical id.
	AliasFor string
}

// ExecContext carries invocation identity into the executor.
type ExecContext struct {
	SessionID        string
	MessageID        string
	CallID           string
	WorkingDirectory string
}

// Classification buckets a shell command by risk.
type Classification string

const (
	ClassReadOnly  Classification = "read-only"
	ClassDangerous Classification = "dangerous"
	ClassForbidden Classification = "forbidden"
)

// Result is the outcome of one tool execution. A RequiresConfirmation
// result is the loop's sole trigger to pause the generation.
type Result struct {
	Success               bool
	Data                  string
	Error                 string
	RequiresConfirmation  bool
	CommandClassification Classification
}

// Executor runs a tool by canonical id. It validates arguments, performs
// the action, and may itself consult the permission gate.
type Executor interface {
	Execute(ctx context.Context, toolID string, args json.RawMessage, ec ExecContext) (Result, error)
}

// ErrorResult builds a failed Result with a formatted message.
func ErrorResult(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}
