package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/engine"
	"github.com/skeinlabs/skein/internal/llm"
	"github.com/skeinlabs/skein/internal/mcp"
	"github.com/skeinlabs/skein/internal/permission"
	"github.com/skeinlabs/skein/internal/session"
	"github.com/skeinlabs/skein/internal/signal"
	"github.com/skeinlabs/skein/internal/tools"
	"github.com/skeinlabs/skein/internal/usage"
)

var (
	chatModel  string
	chatYolo   bool
	chatNoSave bool
)

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Override the configured model")
	chatCmd.Flags().BoolVar(&chatYolo, "yolo", false, "Auto-approve all tool operations (dangerous)")
	chatCmd.Flags().BoolVar(&chatNoSave, "no-save", false, "Do not persist this session")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Run one tool-calling generation for a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(strings.Join(args, " "))
	},
}

func runChat(prompt string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides("", chatModel)
	if cfg.Anthropic.APIKey == "" {
		return fmt.Errorf("no API key configured (set ANTHROPIC_API_KEY or anthropic.api_key)")
	}
	provider := llm.NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)

	if chatNoSave {
		cfg.Sessions.Enabled = false
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	workspaceStore, err := openWorkspaceStore()
	if err != nil {
		return fmt.Errorf("open permission store: %w", err)
	}
	defer workspaceStore.Close()

	prompter := newConsolePrompter()
	gate := permission.NewService(
		permission.WithWorkspaceStore(workspaceStore),
		permission.WithNotifier(prompter.notify),
		permission.WithAutoApprove(cfg.AutoApprove || chatYolo),
	)
	prompter.gate = gate

	reg := tools.NewRegistry()
	local := tools.NewLocalExecutor()
	reg.Register(local.Register(tools.NewShellTool(gate, false)))
	reg.Register(local.Register(tools.NewReadFileTool(gate)))
	reg.Register(local.Register(tools.NewWriteFileTool(gate)))

	mcpCfg, err := mcp.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: load MCP config: %v\n", err)
	} else if len(mcpCfg.Servers) > 0 {
		manager := mcp.NewManager()
		manager.StartAll(ctx, mcpCfg)
		defer manager.StopAll()
		manager.RegisterTools(reg)
		local.SetFallback(manager)
	}

	sess := &session.Session{
		Title:    titleFromPrompt(prompt),
		Provider: provider.Name(),
		Model:    cfg.Anthropic.Model,
		CWD:      cwd,
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		fmt.Fprintf(os.Stderr, "warning: create session: %v\n", err)
	}
	defer gate.ClearSession(sess.ID)

	acct := usage.NewAccountant()
	runner := &engine.Runner{
		Executor: local,
		Registry: reg,
		MaxTurns: cfg.MaxTurns,
	}
	sctx := engine.StreamContext{
		SessionID:        sess.ID,
		MessageID:        session.NewID(),
		Provider:         provider,
		Model:            cfg.Anthropic.Model,
		MaxOutputTokens:  cfg.MaxOutputTokens,
		WorkingDirectory: cwd,
		Sink:             newConsoleSink(),
		Recorder:         store,
		Accountant:       acct,
	}

	transcript := []llm.Message{llm.UserText(prompt)}
	res, err := runner.RunLoop(ctx, sctx, transcript, reg.Specs())
	fmt.Println()
	if err != nil {
		return err
	}

	if uerr := store.UpdateMetrics(ctx, sess.ID, res.Turns, countToolCalls(res.Transcript), acct.Totals()); uerr != nil {
		fmt.Fprintf(os.Stderr, "warning: update session metrics: %v\n", uerr)
	}

	if res.Aborted {
		fmt.Fprintln(os.Stderr, "aborted")
	}
	if res.PausedForConfirmation {
		fmt.Fprintln(os.Stderr, "paused: a tool call is awaiting confirmation")
	}
	if showStats {
		totals := acct.Totals()
		fmt.Fprintf(os.Stderr, "turns: %d  tool calls: %d  tokens: %d in / %d cached / %d out\n",
			res.Turns, countToolCalls(res.Transcript),
			totals.InputTokens, totals.CachedInputTokens, totals.OutputTokens)
	}
	return nil
}

func openWorkspaceStore() (*permission.SQLiteWorkspaceStore, error) {
	dataDir, err := session.DataDir()
	if err != nil {
		return nil, err
	}
	return permission.NewSQLiteWorkspaceStore(filepath.Join(dataDir, "permissions.db"))
}

func titleFromPrompt(prompt string) string {
	title := strings.TrimSpace(prompt)
	if idx := strings.Index(title, "\n"); idx != -1 {
		title = title[:idx]
	}
	if len(title) > 100 {
		title = title[:97] + "..."
	}
	return title
}

func countToolCalls(transcript []llm.Message) int {
	count := 0
	for _, msg := range transcript {
		if msg.Role != llm.RoleAssistant {
			continue
		}
		for _, part := range msg.Parts {
			if part.Type == llm.PartToolCall {
				count++
			}
		}
	}
	return count
}
