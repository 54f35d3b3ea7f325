package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/treectx/internal/agentprofile"
	"github.com/untoldecay/treectx/internal/orchestrate/render"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect and administer agent profiles",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured agent profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		profiles, err := app.Agents.List()
		if err != nil {
			return err
		}
		items := make([]agentprofile.StatusItem, 0, len(profiles))
		for _, p := range profiles {
			items = append(items, app.Agents.Status(p.ID))
		}
		if jsonOutput {
			enc, _ := json.MarshalIndent(items, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(enc))
		} else {
			render.AgentList(cmd.OutOrStdout(), items)
		}
		return nil
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one agent profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		p, err := app.Agents.Get(args[0])
		if err != nil {
			return err
		}
		enc, _ := json.MarshalIndent(p, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(enc))
		return nil
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status (alias for `tx status --agents-only`)",
	RunE: agentListCmd.RunE,
}

var agentValidateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Validate one agent profile's role, provider, and prompt files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		if err := app.Agents.Validate(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "agent %q is valid\n", args[0])
		return nil
	},
}

var (
	agentRole                    string
	agentProvider                string
	agentSystemPromptPath        string
	agentFileUserPromptPath      string
	agentDirectoryUserPromptPath string
	agentResponseTemplatePath    string
)

func agentProfileFromFlags(id string) agentprofile.Profile {
	return agentprofile.Profile{
		ID:                      id,
		Role:                    agentRole,
		ProviderName:            agentProvider,
		SystemPromptPath:        agentSystemPromptPath,
		FileUserPromptPath:      agentFileUserPromptPath,
		DirectoryUserPromptPath: agentDirectoryUserPromptPath,
		ResponseTemplatePath:    agentResponseTemplatePath,
	}
}

var agentCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a new agent profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		if _, err := app.Agents.Get(args[0]); err == nil {
			return fmt.Errorf("agent %q already exists", args[0])
		}
		return app.Agents.Put(agentProfileFromFlags(args[0]))
	},
}

var agentEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Overwrite fields of an existing agent profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		existing, err := app.Agents.Get(args[0])
		if err != nil {
			return err
		}
		updated := agentProfileFromFlags(args[0])
		if !cmd.Flags().Changed("role") {
			updated.Role = existing.Role
		}
		if !cmd.Flags().Changed("provider") {
			updated.ProviderName = existing.ProviderName
		}
		if !cmd.Flags().Changed("system-prompt") {
			updated.SystemPromptPath = existing.SystemPromptPath
		}
		if !cmd.Flags().Changed("file-prompt") {
			updated.FileUserPromptPath = existing.FileUserPromptPath
		}
		if !cmd.Flags().Changed("directory-prompt") {
			updated.DirectoryUserPromptPath = existing.DirectoryUserPromptPath
		}
		if !cmd.Flags().Changed("response-template") {
			updated.ResponseTemplatePath = existing.ResponseTemplatePath
		}
		return app.Agents.Put(updated)
	},
}

var agentRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete an agent profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)
		return app.Agents.Remove(args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{agentCreateCmd, agentEditCmd} {
		c.Flags().StringVar(&agentRole, "role", "", "agent role")
		c.Flags().StringVar(&agentProvider, "provider", "", "default provider profile name")
		c.Flags().StringVar(&agentSystemPromptPath, "system-prompt", "", "path to the system prompt file")
		c.Flags().StringVar(&agentFileUserPromptPath, "file-prompt", "", "path to the per-file user prompt template")
		c.Flags().StringVar(&agentDirectoryUserPromptPath, "directory-prompt", "", "path to the per-directory user prompt template")
		c.Flags().StringVar(&agentResponseTemplatePath, "response-template", "", "optional path to a response template")
	}

	agentCmd.AddCommand(agentListCmd, agentShowCmd, agentStatusCmd, agentValidateCmd,
		agentCreateCmd, agentEditCmd, agentRemoveCmd)
	rootCmd.AddCommand(agentCmd)
}
