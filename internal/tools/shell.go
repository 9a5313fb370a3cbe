package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/skeinlabs/skein/internal/permission"
)

const ShellToolID = "bash"

// readOnlyPrefixes are command heads that never mutate state and run
// without consulting the gate.
var readOnlyPrefixes = []string{
	"ls", "cat", "head", "tail", "grep", "rg", "find", "pwd", "echo",
	"wc", "which", "ps", "df", "du", "uname", "whoami", "env", "date",
	"stat", "file", "git status", "git log", "git diff", "git show",
	"git branch",
}

// forbiddenPrefixes are never executed regardless of approvals.
var forbiddenPrefixes = []string{
	"rm -rf /", "rm -fr /", "mkfs", "dd if=", ":(){", "shutdown", "reboot",
	"halt", "init 0", "init 6",
}

// ShellTool executes shell commands. Commands are classified as read-only,
// dangerous, or forbidden; only the dangerous class consults the gate.
type ShellTool struct {
	gate *permission.Service

	// deferConfirmation makes dangerous commands return a
	// requires-confirmation result instead of blocking on the gate, so the
	// loop pauses the generation for an out-of-band decision.
	deferConfirmation bool

	maxOutputBytes int
}

func NewShellTool(gate *permission.Service, deferConfirmation bool) *ShellTool {
	return &ShellTool{
		gate:              gate,
		deferConfirmation: deferConfirmation,
		maxOutputBytes:    64 * 1024,
	}
}

// ShellArgs are the arguments for the bash tool.
type ShellArgs struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (t *ShellTool) Descriptor() Descriptor {
	return Descriptor{
		ID:          ShellToolID,
		Name:        ShellToolID,
		DisplayName: "Bash",
		Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
		Kind:        KindCommand,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Command timeout in seconds (default: 30, max: 300)",
					"default":     30,
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

// Classify buckets a command by risk.
func Classify(command string) Classification {
	trimmed := strings.TrimSpace(command)
	lower := strings.ToLower(trimmed)

	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return ClassForbidden
		}
	}

	// Shell metacharacters can smuggle a second command past a read-only
	// head, so their presence makes the whole command dangerous.
	if strings.ContainsAny(trimmed, ";|&`$><") {
		return ClassDangerous
	}

	for _, prefix := range readOnlyPrefixes {
		if lower == prefix || strings.HasPrefix(lower, prefix+" ") {
			return ClassReadOnly
		}
	}
	return ClassDangerous
}

// CommandPattern derives the permission key for a command: its first word
// under the bash type, e.g. "bash:git".
func CommandPattern(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "bash:"
	}
	return "bash:" + fields[0]
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage, ec ExecContext) (Result, error) {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ErrorResult("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(a.Command) == "" {
		return ErrorResult("command is required"), nil
	}

	class := Classify(a.Command)
	switch class {
	case ClassForbidden:
		return Result{
			Error:                 fmt.Sprintf("command forbidden: %s", truncateCommand(a.Command)),
			CommandClassification: ClassForbidden,
		}, nil

	case ClassDangerous:
		if t.deferConfirmation {
			return Result{
				Success:               true,
				Data:                  "Command requires confirmation; awaiting approval.",
				RequiresConfirmation:  true,
				CommandClassification: ClassDangerous,
			}, nil
		}
		if t.gate != nil {
			err := t.gate.Ask(ctx, permission.Request{
				Type:             permission.TypeBash,
				Patterns:         []string{CommandPattern(a.Command)},
				SessionID:        ec.SessionID,
				MessageID:        ec.MessageID,
				CallID:           ec.CallID,
				Title:            fmt.Sprintf("Run: %s", truncateCommand(a.Command)),
				WorkingDirectory: ec.WorkingDirectory,
			})
			if err != nil {
				if permErr, ok := err.(*permission.Error); ok {
					return Result{
						Error:                 permErr.Error(),
						CommandClassification: ClassDangerous,
					}, nil
				}
				return Result{}, err
			}
		}
	}

	result := t.run(ctx, a, ec)
	result.CommandClassification = class
	return result, nil
}

func (t *ShellTool) run(ctx context.Context, a ShellArgs, ec ExecContext) Result {
	timeout := 30
	if a.TimeoutSeconds > 0 {
		timeout = a.TimeoutSeconds
	}
	if timeout > 300 {
		timeout = 300
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", a.Command)
	if ec.WorkingDirectory != "" {
		cmd.Dir = ec.WorkingDirectory
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() != nil {
		// Abort propagated from the generation, not a command timeout.
		return ErrorResult("command cancelled")
	}
	if execCtx.Err() == context.DeadlineExceeded {
		return ErrorResult("command timed out after %ds", timeout)
	}

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return ErrorResult("command error: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return Result{
		Success: exitCode == 0,
		Data:    t.formatOutput(stdout.String(), stderr.String(), exitCode),
	}
}

func (t *ShellTool) formatOutput(stdout, stderr string, exitCode int) string {
	var sb strings.Builder
	truncated := false

	if len(stdout) > t.maxOutputBytes {
		stdout = stdout[:t.maxOutputBytes]
		truncated = true
	}
	if len(stderr) > t.maxOutputBytes {
		stderr = stderr[:t.maxOutputBytes]
		truncated = true
	}

	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "\nexit_code: %d", exitCode)
	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}
	return sb.String()
}

func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "bash"
}

func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
