// Package usage tracks token accounting across the turns of one generation.
package usage

import (
	"sync"

	"github.com/skeinlabs/skein/internal/llm"
)

// Accountant accumulates per-turn token usage. Totals are monotonically
// non-decreasing within one generation; the last-turn view always reflects
// only the most recent finish chunk.
type Accountant struct {
	mu    sync.Mutex
	total llm.Usage
	last  llm.Usage
	turns int
}

func NewAccountant() *Accountant {
	return &Accountant{}
}

// AddTurn records one turn's usage report.
func (a *Accountant) AddTurn(u llm.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total.Add(u)
	a.last = u
	a.turns++
}

// Totals returns the accumulated usage across all recorded turns.
func (a *Accountant) Totals() llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// LastTurn returns only the most recent turn's usage.
func (a *Accountant) LastTurn() llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Turns returns how many turns have reported usage.
func (a *Accountant) Turns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turns
}

// ContextSize estimates the current context size in tokens: the last
// turn's input (cached included) plus its output, since the next request
// carries the whole transcript forward.
func (a *Accountant) ContextSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last.InputTokens + a.last.CachedInputTokens + a.last.OutputTokens
}
