package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(permissionsCmd)
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "List durable approvals for the current workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}

		store, err := openWorkspaceStore()
		if err != nil {
			return fmt.Errorf("open permission store: %w", err)
		}
		defer store.Close()

		patterns, err := store.Approved(cwd)
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}
		if len(patterns) == 0 {
			fmt.Printf("no workspace approvals for %s\n", cwd)
			return nil
		}

		fmt.Printf("workspace approvals for %s:\n", cwd)
		for _, pattern := range patterns {
			fmt.Printf("  %s\n", pattern)
		}
		return nil
	},
}
