// Package permission implements the approval gate for tool execution:
// session-scoped and workspace-scoped pattern approvals, pending requests
// awaiting a human decision, and the typed rejection error fed back into
// the transcript.
package permission

import (
	"fmt"
	"time"
)

// Type classifies what kind of operation a request covers.
type Type string

const (
	TypeBash  Type = "bash"
	TypeRead  Type = "read"
	TypeWrite Type = "write"
	TypeTool  Type = "tool"
)

// Request asks the gate to approve one tool invocation.
type Request struct {
	ID               string
	Type             Type
	Patterns         []string
	SessionID        string
	MessageID        string
	CallID           string
	Title            string
	Metadata         map[string]any
	CreatedAt        time.Time
	WorkingDirectory string
}

// Keys returns the match keys for this request. A request without explicit
// patterns is keyed by its type alone.
func (r Request) Keys() []string {
	if len(r.Patterns) > 0 {
		return r.Patterns
	}
	return []string{string(r.Type)}
}

// Info is the observer-facing snapshot of a pending request.
type Info struct {
	ID               string
	Type             Type
	Patterns         []string
	SessionID        string
	MessageID        string
	CallID           string
	Title            string
	Metadata         map[string]any
	CreatedAt        time.Time
	WorkingDirectory string
}

// Decision is the user's answer to a pending request.
type Decision string

const (
	DecisionOnce      Decision = "once"
	DecisionSession   Decision = "session"
	DecisionWorkspace Decision = "workspace"
	DecisionReject    Decision = "reject"

	// decisionAlways is the legacy synonym for session-scoped approval.
	// It is normalized at the Respond boundary and never used internally.
	decisionAlways Decision = "always"
)

// normalizeDecision maps legacy decision values onto current ones.
func normalizeDecision(d Decision) Decision {
	if d == decisionAlways {
		return DecisionSession
	}
	return d
}

const defaultRejectReason = "Permission denied"

// Error is the typed rejection carrying enough identity for the loop to
// feed the denial back into the transcript.
type Error struct {
	SessionID    string
	PermissionID string
	CallID       string
	Reason       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("permission rejected: %s", e.Reason)
}
