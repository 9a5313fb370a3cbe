package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsLimit int

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer store.Close()

		sessions, err := store.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}

		for _, s := range sessions {
			fmt.Printf("%s  %-19s  %-40s  turns=%d tools=%d tokens=%d/%d\n",
				s.ID[:8], s.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				s.Title, s.Turns, s.ToolCalls, s.InputTokens, s.OutputTokens)
		}
		return nil
	},
}
