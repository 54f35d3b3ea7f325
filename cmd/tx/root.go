// Command tx is the CLI surface over treectx: scanning a workspace,
// generating and reading context frames, and administering the agent/
// provider profile registries. One file per command group mirrors the
// teacher's cmd/bd layout. See SPEC_FULL.md §6.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/treectx/internal/config"
	"github.com/untoldecay/treectx/internal/orchestrate"
	"github.com/untoldecay/treectx/internal/telemetry"
)

// Persistent flags, mirroring the teacher's package-level jsonOutput
// convention (cmd/bd/*.go) rather than threading flags through every
// RunE signature.
var (
	workspaceFlag string
	jsonOutput    bool
)

var rootCmd = &cobra.Command{
	Use:           "tx",
	Short:         "Content-addressed identity and context-frame store for source trees",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", ".", "workspace root directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON instead of text")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tx:", err)
		os.Exit(1)
	}
}

// openApp resolves workspaceFlag into an orchestrate.App, the one
// collaborator bundle every command group needs.
func openApp(ctx context.Context) (*orchestrate.App, error) {
	cfg, err := config.Load(workspaceFlag)
	if err != nil {
		return nil, err
	}
	sess := telemetry.NewSession(filepath.Join(cfg.DataHome, "sessions"), telemetry.NewSessionID())
	return orchestrate.Open(ctx, workspaceFlag, sess)
}

// closeApp shuts the workspace down and flushes its telemetry session.
func closeApp(ctx context.Context, app *orchestrate.App) {
	_ = app.Close(ctx)
	if sess, ok := app.Workspace.Bus.(*telemetry.Session); ok {
		_ = sess.Close()
	}
}
