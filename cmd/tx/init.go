package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/treectx/internal/config"
	"github.com/untoldecay/treectx/internal/orchestrate"
)

var (
	initForce bool
	initList  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold the data/agent/provider directories for a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		if initList {
			cfg, err := config.Load(workspaceFlag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "data home:     %s\n", cfg.DataHome)
			fmt.Fprintf(cmd.OutOrStdout(), "agents dir:    %s\n", cfg.AgentsDir)
			fmt.Fprintf(cmd.OutOrStdout(), "providers dir: %s\n", cfg.ProvidersDir)
			return nil
		}
		if err := orchestrate.Init(workspaceFlag, initForce); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "workspace initialized")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite the default provider stub if one already exists")
	initCmd.Flags().BoolVar(&initList, "list", false, "print the resolved data/agent/provider directories instead of scaffolding them")
	rootCmd.AddCommand(initCmd)
}
