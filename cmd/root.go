// Package cmd wires the configuration, provider, permission gate, tool
// stack and engine into the skein CLI.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "skein",
	Short: "Tool-calling LLM orchestration from the terminal",
	Long: `skein drives a turn-based conversation between a language model and a
set of executable tools, streaming output as it arrives and gating tool
execution behind an approval system.

Examples:
  skein chat "list the go files in this repo and summarize them"
  skein chat "refactor main.go" --yolo
  skein sessions
  skein permissions`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var showStats bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "Show generation statistics (turns, tokens, tool calls)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
