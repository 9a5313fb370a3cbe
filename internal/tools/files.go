package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/skeinlabs/skein/internal/permission"
)

const (
	ReadFileToolID  = "read_file"
	WriteFileToolID = "write_file"

	maxReadBytes = 256 * 1024
)

// directoryPattern derives the directory-scoped permission key for a path:
// approving it covers every file under the same directory.
func directoryPattern(kind, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return fmt.Sprintf("%s:%s%c*", kind, filepath.Dir(abs), filepath.Separator)
}

// ReadFileTool reads a file, gated by directory-scoped read approval.
type ReadFileTool struct {
	gate *permission.Service
}

func NewReadFileTool(gate *permission.Service) *ReadFileTool {
	return &ReadFileTool{gate: gate}
}

type readFileArgs struct {
	Path string `json:"path"`
}

func (t *ReadFileTool) Descriptor() Descriptor {
	return Descriptor{
		ID:          ReadFileToolID,
		Name:        "read",
		DisplayName: "Read File",
		Description: "Read the contents of a file.",
		Kind:        KindFileRead,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to read",
				},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage, ec ExecContext) (Result, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ErrorResult("invalid arguments: %v", err), nil
	}
	if a.Path == "" {
		return ErrorResult("path is required"), nil
	}

	if t.gate != nil {
		err := t.gate.Ask(ctx, permission.Request{
			Type:             permission.TypeRead,
			Patterns:         []string{directoryPattern("read", a.Path)},
			SessionID:        ec.SessionID,
			MessageID:        ec.MessageID,
			CallID:           ec.CallID,
			Title:            fmt.Sprintf("Read %s", a.Path),
			WorkingDirectory: ec.WorkingDirectory,
		})
		if err != nil {
			if permErr, ok := err.(*permission.Error); ok {
				return Result{Error: permErr.Error()}, nil
			}
			return Result{}, err
		}
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return ErrorResult("stat %s: %v", a.Path, err), nil
	}
	if info.Size() > maxReadBytes {
		return ErrorResult("file too large: %s (%d bytes)", a.Path, info.Size()), nil
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		return ErrorResult("read %s: %v", a.Path, err), nil
	}
	return Result{Success: true, Data: string(data)}, nil
}

// WriteFileTool writes a file, gated by directory-scoped write approval.
type WriteFileTool struct {
	gate *permission.Service
}

func NewWriteFileTool(gate *permission.Service) *WriteFileTool {
	return &WriteFileTool{gate: gate}
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Descriptor() Descriptor {
	return Descriptor{
		ID:          WriteFileToolID,
		Name:        "write",
		DisplayName: "Write File",
		Description: "Write content to a file, creating it if needed.",
		Kind:        KindFileWrite,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full file content",
				},
			},
			"required":             []string{"path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage, ec ExecContext) (Result, error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ErrorResult("invalid arguments: %v", err), nil
	}
	if a.Path == "" {
		return ErrorResult("path is required"), nil
	}

	if t.gate != nil {
		err := t.gate.Ask(ctx, permission.Request{
			Type:             permission.TypeWrite,
			Patterns:         []string{directoryPattern("write", a.Path)},
			SessionID:        ec.SessionID,
			MessageID:        ec.MessageID,
			CallID:           ec.CallID,
			Title:            fmt.Sprintf("Write %s", a.Path),
			WorkingDirectory: ec.WorkingDirectory,
		})
		if err != nil {
			if permErr, ok := err.(*permission.Error); ok {
				return Result{Error: permErr.Error()}, nil
			}
			return Result{}, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return ErrorResult("create directory: %v", err), nil
	}
	if err := os.WriteFile(a.Path, []byte(a.Content), 0o644); err != nil {
		return ErrorResult("write %s: %v", a.Path, err), nil
	}
	return Result{Success: true, Data: fmt.Sprintf("Wrote %d bytes to %s", len(a.Content), a.Path)}, nil
}
