package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/permission"
	"github.com/skeinlabs/skein/internal/stream"
)

// consoleSink renders generation events: text to stdout, tool progress to
// stderr so piped output stays clean.
type consoleSink struct{}

func newConsoleSink() *consoleSink { return &consoleSink{} }

func (s *consoleSink) Send(ev stream.Event) {
	switch ev.Type {
	case stream.EventChunk:
		if ev.Chunk != nil && ev.Chunk.Type == llm.ChunkTextDelta {
			fmt.Print(ev.Chunk.Text)
		}
	case stream.EventStepAdded:
		if ev.Step != nil {
			fmt.Fprintf(os.Stderr, "\n[%s] %s\n", ev.Step.Type, ev.Step.Title)
		}
	case stream.EventStepUpdated:
		if ev.Step != nil && ev.Step.Status.Terminal() {
			fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", ev.Step.Type, ev.Step.Title, ev.Step.Status)
		}
	case stream.EventContinuation:
		fmt.Fprintln(os.Stderr, "...")
	case stream.EventError:
		if ev.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", ev.Err)
		}
	}
}

// consolePrompter answers permission requests on the terminal. Prompts are
// serialized so concurrent asks never interleave on stdin.
type consolePrompter struct {
	mu   sync.Mutex
	in   *bufio.Reader
	gate *permission.Service
}

func newConsolePrompter() *consolePrompter {
	return &consolePrompter{in: bufio.NewReader(os.Stdin)}
}

func (p *consolePrompter) notify(info permission.Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "\npermission needed: %s\n", info.Title)
	for _, pattern := range info.Patterns {
		fmt.Fprintf(os.Stderr, "  pattern: %s\n", pattern)
	}
	fmt.Fprint(os.Stderr, "allow? [y]es once / [s]ession / [w]orkspace / [n]o: ")

	line, err := p.in.ReadString('\n')
	if err != nil {
		p.gate.Respond(info.SessionID, info.ID, permission.DecisionReject, "no answer")
		return
	}

	var decision permission.Decision
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		decision = permission.DecisionOnce
	case "s", "session":
		decision = permission.DecisionSession
	case "w", "workspace":
		decision = permission.DecisionWorkspace
	default:
		decision = permission.DecisionReject
	}
	p.gate.Respond(info.SessionID, info.ID, decision, "")
}
