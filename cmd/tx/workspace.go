package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/treectx/internal/ignore"
	"github.com/untoldecay/treectx/internal/orchestrate"
	"github.com/untoldecay/treectx/internal/orchestrate/render"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Inspect and administer the workspace's tree and frame history",
}

var workspaceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace status (alias for `tx status --workspace-only`)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		report, err := app.Status(ctx, true)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc, _ := json.MarshalIndent(report, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(enc))
		} else {
			render.Status(cmd.OutOrStdout(), report)
		}
		return nil
	},
}

var workspaceValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the tree and indices for consistency without mutating anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		report, err := app.Validate(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc, _ := json.MarshalIndent(report, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(enc))
		} else {
			render.Validate(cmd.OutOrStdout(), report)
		}
		if len(report.Errors) > 0 {
			return fmt.Errorf("validate found %d error(s)", len(report.Errors))
		}
		return nil
	},
}

var workspaceIgnoreCmd = &cobra.Command{
	Use:   "ignore [path]",
	Short: "Add a pattern to the workspace ignore list, or list it with no arguments",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		if len(args) == 0 {
			patterns, err := ignore.List(app.Workspace.IgnoreListPath())
			if err != nil {
				return err
			}
			for _, p := range patterns {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		}
		return ignore.Add(app.Workspace.IgnoreListPath(), args[0])
	},
}

var (
	deleteNode       string
	deleteKeepFrames bool
	deleteDryRun     bool
	deleteNoIgnore   bool
	deletePermanent  bool
)

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a node and its subtree from the tree and frame history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := deleteNode
		if len(args) == 1 {
			target = args[0]
		}
		if target == "" {
			return fmt.Errorf("delete requires a path argument or --node")
		}

		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		result, err := app.DeleteNode(ctx, target, orchestrate.DeleteOptions{
			Cascade:      true,
			DeleteFrames: !deleteKeepFrames,
			DryRun:       deleteDryRun,
			NoIgnore:     deleteNoIgnore,
			Permanent:    deletePermanent,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "nodes affected: %d, heads removed: %d, frames deleted: %d\n",
			result.NodesAffected, result.HeadsRemoved, result.FramesDeleted)
		return nil
	},
}

var workspaceRestoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Clear a tombstoned node's deletion marker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)
		return app.RestoreNode(ctx, args[0])
	},
}

var workspaceCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Sweep dangling path keys left by an interrupted write",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		result, err := app.Compact(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d dangling path key(s)\n", result.DanglingPathsRemoved)
		return nil
	},
}

var workspaceListDeletedCmd = &cobra.Command{
	Use:   "list-deleted",
	Short: "List tombstoned nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		deleted, err := app.ListDeleted(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc, _ := json.MarshalIndent(deleted, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(enc))
			return nil
		}
		for _, rec := range deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", rec.ID, rec.Path)
		}
		return nil
	},
}

func init() {
	workspaceDeleteCmd.Flags().StringVar(&deleteNode, "node", "", "target by node ID instead of path")
	workspaceDeleteCmd.Flags().BoolVar(&deleteKeepFrames, "keep-frames", false, "remove head and basis entries but keep the frame blobs on disk")
	workspaceDeleteCmd.Flags().BoolVar(&deleteDryRun, "dry-run", false, "report what would change without mutating anything")
	workspaceDeleteCmd.Flags().BoolVar(&deleteNoIgnore, "no-ignore", false, "do not append the deleted path to the ignore list")
	workspaceDeleteCmd.Flags().BoolVar(&deletePermanent, "permanent", false, "permanently remove the node record instead of tombstoning it")

	workspaceCmd.AddCommand(workspaceStatusCmd, workspaceValidateCmd, workspaceIgnoreCmd,
		workspaceDeleteCmd, workspaceRestoreCmd, workspaceCompactCmd, workspaceListDeletedCmd)
	rootCmd.AddCommand(workspaceCmd)
}
