package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/treectx/internal/ignore"
	"github.com/untoldecay/treectx/internal/watch"
)

var (
	watchDebounceMS    int
	watchBatchWindowMS int
	watchRecursive     bool
	watchMaxDepth      int
	watchAgentID       string
	watchForeground    bool
	watchPIDFile       string
	watchStop          bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workspace for changes and keep the tree (and, with --agent-id, context) current",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}

		pidPath := watchPIDFile
		if pidPath == "" {
			pidPath = filepath.Join(app.Config.DataHome, "watch.pid")
		}

		if watchStop {
			closeApp(ctx, app)
			return stopWatch(pidPath)
		}
		defer closeApp(ctx, app)

		maxDepth := app.Config.WatchMaxRegenDep
		if watchMaxDepth > 0 {
			maxDepth = watchMaxDepth
		}
		cfg := watch.Config{
			DebounceWindow: time.Duration(watchDebounceMS) * time.Millisecond,
			BatchWindow:    time.Duration(watchBatchWindowMS) * time.Millisecond,
			PIDFilePath:    pidPath,
			Regenerate:     watchAgentID != "",
			MaxRegenDepth:  maxDepth,
		}
		if watchAgentID != "" {
			providerName, err := app.Agents.ProviderName(watchAgentID)
			if err != nil {
				return err
			}
			cfg.Bindings = []watch.Binding{{AgentID: watchAgentID, ProviderName: providerName, FrameType: "summary"}}
		}

		ignores, err := ignore.Resolve(app.Config.WorkspaceRoot, app.Workspace.IgnoreListPath())
		if err != nil {
			return err
		}

		rt := watch.New(app.Config.WorkspaceRoot, app.Workspace.Nodes, app.Workspace.Heads,
			app.Workspace.Basis, app.Workspace.Queue, ignores, app.Workspace.Bus, cfg)

		if err := rt.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "watching %s (pid %d)\n", app.Config.WorkspaceRoot, os.Getpid())

		<-ctx.Done()
		return rt.Stop()
	},
}

func stopWatch(pidPath string) error {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return fmt.Errorf("read pid file %q: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("parse pid file %q: %w", pidPath, err)
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}

func init() {
	watchCmd.Flags().IntVar(&watchDebounceMS, "debounce-ms", 100, "debounce window in milliseconds")
	watchCmd.Flags().IntVar(&watchBatchWindowMS, "batch-window-ms", 50, "batch window in milliseconds")
	watchCmd.Flags().BoolVar(&watchRecursive, "recursive", true, "watch subdirectories recursively")
	watchCmd.Flags().IntVar(&watchMaxDepth, "max-depth", 0, "regeneration depth cap (0 = use the watch.max-regen-depth setting)")
	watchCmd.Flags().StringVar(&watchAgentID, "agent-id", "", "agent to regenerate frames for on change")
	watchCmd.Flags().BoolVar(&watchForeground, "foreground", true, "run in the foreground")
	watchCmd.Flags().StringVar(&watchPIDFile, "pid-file", "", "override the default watch.pid location")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop a running watch daemon")
	rootCmd.AddCommand(watchCmd)
}
