package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanForce bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Rebuild the workspace's Merkle tree and persist it to the node store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		t, err := app.Workspace.Scan(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d nodes, root %s\n", len(t.Nodes), t.Root)
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanForce, "force", false, "has no effect: every scan rebuilds the full tree")
	rootCmd.AddCommand(scanCmd)
}
