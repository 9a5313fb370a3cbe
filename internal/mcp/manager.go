package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/skeinlabs/skein/internal/tools"
)

// Manager owns the MCP clients and exposes their tools as a namespaced
// executor. Canonical ids take the form "server__tool".
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewManager() *Manager {
	return &Manager{clients: make(map[string]*Client)}
}

// StartAll connects every configured server. A server that fails to start
// is skipped with a warning; the rest keep working.
func (m *Manager) StartAll(ctx context.Context, cfg *Config) {
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := cfg.Servers[name]
		if err := sc.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: MCP server %s: %v\n", name, err)
			continue
		}
		client := NewClient(name, sc)
		if err := client.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			continue
		}
		m.mu.Lock()
		m.clients[name] = client
		m.mu.Unlock()
	}
}

// StopAll closes every connection.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, client := range m.clients {
		if err := client.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: stop MCP server %s: %v\n", name, err)
		}
		delete(m.clients, name)
	}
}

// RegisterTools adds every connected server's tools to the registry under
// their namespaced canonical id, carrying the server's display name.
func (m *Manager) RegisterTools(reg *tools.Registry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		client := m.clients[name]
		for _, spec := range client.Tools() {
			reg.Register(tools.Descriptor{
				ID:          name + "__" + spec.Name,
				Name:        spec.Name,
				DisplayName: client.DisplayName(),
				Description: spec.Description,
				Kind:        tools.KindToolCall,
				Schema:      spec.Schema,
			})
		}
	}
}

// Execute implements tools.Executor for namespaced ids. Unknown servers and
// call failures become failed results, never hard errors.
func (m *Manager) Execute(ctx context.Context, toolID string, args json.RawMessage, ec tools.ExecContext) (tools.Result, error) {
	server, tool, ok := tools.SplitNamespaced(toolID)
	if !ok {
		return tools.ErrorResult("not a namespaced tool: %s", toolID), nil
	}

	m.mu.RLock()
	client, found := m.clients[server]
	m.mu.RUnlock()
	if !found {
		return tools.ErrorResult("MCP server not connected: %s", server), nil
	}

	output, err := client.CallTool(ctx, tool, args)
	if err != nil {
		if ctx.Err() != nil {
			return tools.Result{}, err
		}
		return tools.ErrorResult("%v", err), nil
	}
	return tools.Result{Success: true, Data: output}, nil
}
