package tools

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/skeinlabs/skein/internal/llm"
)

// Registry holds tool descriptors keyed by canonical id and resolves the
// possibly-short names a model emits back to canonical entries.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Descriptor
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Descriptor)}
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[d.ID]; !exists {
		r.order = append(r.order, d.ID)
	}
	r.byID[d.ID] = d
}

// Get returns the descriptor for a canonical id, following alias chains.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.followAlias(id)
}

// All returns every non-alias descriptor in registration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		d := r.byID[id]
		if d.AliasFor != "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Specs returns the model-facing tool schema set.
func (r *Registry) Specs() []llm.ToolSpec {
	all := r.All()
	specs := make([]llm.ToolSpec, 0, len(all))
	for _, d := range all {
		specs = append(specs, llm.ToolSpec{
			Name:        d.ID,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}
	return specs
}

// Resolve maps a model-emitted tool name to a canonical descriptor: exact
// id first, then a best-effort short-name lookup optionally narrowed by
// the argument keys already known. The boolean is false when nothing
// matches; callers fall back to the raw name.
func (r *Registry) Resolve(name string, argsHint json.RawMessage) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.followAlias(name); ok {
		return d, true
	}

	candidates := r.shortNameMatches(name)
	switch len(candidates) {
	case 0:
		return Descriptor{}, false
	case 1:
		return candidates[0], true
	}

	if keys := argumentKeys(argsHint); len(keys) > 0 {
		for _, d := range candidates {
			if schemaHasKeys(d.Schema, keys) {
				return d, true
			}
		}
	}
	return candidates[0], true
}

// followAlias walks an alias chain with a visited set so a misconfigured
// cycle cannot hang resolution. Caller must hold r.mu.
func (r *Registry) followAlias(id string) (Descriptor, bool) {
	visited := make(map[string]struct{})
	for {
		d, ok := r.byID[id]
		if !ok {
			return Descriptor{}, false
		}
		if d.AliasFor == "" {
			return d, true
		}
		if _, seen := visited[id]; seen {
			return Descriptor{}, false
		}
		visited[id] = struct{}{}
		id = d.AliasFor
	}
}

// shortNameMatches collects descriptors whose short name, or the local
// part of a namespaced id, equals name. Caller must hold r.mu.
func (r *Registry) shortNameMatches(name string) []Descriptor {
	var out []Descriptor
	for _, id := range r.order {
		d := r.byID[id]
		if d.AliasFor != "" {
			continue
		}
		if d.Name == name {
			out = append(out, d)
			continue
		}
		if _, local, ok := SplitNamespaced(d.ID); ok && local == name {
			out = append(out, d)
		}
	}
	return out
}

// SplitNamespaced splits a "server__tool" canonical id.
func SplitNamespaced(id string) (server, tool string, ok bool) {
	idx := strings.Index(id, "__")
	if idx <= 0 || idx+2 >= len(id) {
		return "", "", false
	}
	return id[:idx], id[idx+2:], true
}

func argumentKeys(args json.RawMessage) []string {
	if len(args) == 0 {
		return nil
	}
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil
	}
	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	return keys
}

func schemaHasKeys(schema map[string]any, keys []string) bool {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return false
	}
	for _, key := range keys {
		if _, ok := props[key]; !ok {
			return false
		}
	}
	return true
}
