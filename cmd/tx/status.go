package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/treectx/internal/agentprofile"
	"github.com/untoldecay/treectx/internal/orchestrate/render"
	"github.com/untoldecay/treectx/internal/providerprofile"
)

var (
	statusWorkspaceOnly    bool
	statusAgentsOnly       bool
	statusProvidersOnly    bool
	statusFormat           string
	statusBreakdown        bool
	statusTestConnectivity bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report workspace, agent, and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		showWorkspace := !statusAgentsOnly && !statusProvidersOnly
		showAgents := !statusWorkspaceOnly && !statusProvidersOnly
		showProviders := !statusWorkspaceOnly && !statusAgentsOnly

		out := cmd.OutOrStdout()

		if showWorkspace {
			report, err := app.Status(ctx, statusBreakdown)
			if err != nil {
				return err
			}
			if statusFormat == "json" || jsonOutput {
				enc, _ := json.MarshalIndent(report, "", "  ")
				fmt.Fprintln(out, string(enc))
			} else {
				render.Status(out, report)
			}
		}

		if showAgents {
			profiles, err := app.Agents.List()
			if err != nil {
				return err
			}
			items := make([]agentprofile.StatusItem, 0, len(profiles))
			for _, p := range profiles {
				items = append(items, app.Agents.Status(p.ID))
			}
			if statusFormat == "json" || jsonOutput {
				enc, _ := json.MarshalIndent(items, "", "  ")
				fmt.Fprintln(out, string(enc))
			} else {
				render.AgentList(out, items)
			}
		}

		if showProviders {
			profiles, err := app.Providers.List()
			if err != nil {
				return err
			}
			items := make([]providerprofile.StatusItem, 0, len(profiles))
			for _, p := range profiles {
				item := providerprofile.StatusItem{ProviderName: p.Name, ProviderType: p.Kind, Model: p.Model}
				if statusTestConnectivity {
					if verr := app.Providers.Validate(p.Name, true); verr == nil {
						item.Connectivity = "ok"
					} else {
						item.Connectivity = "fail"
					}
				}
				items = append(items, item)
			}
			if statusFormat == "json" || jsonOutput {
				enc, _ := json.MarshalIndent(items, "", "  ")
				fmt.Fprintln(out, string(enc))
			} else {
				render.ProviderList(out, items)
			}
		}

		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusWorkspaceOnly, "workspace-only", false, "report only workspace status")
	statusCmd.Flags().BoolVar(&statusAgentsOnly, "agents-only", false, "report only agent status")
	statusCmd.Flags().BoolVar(&statusProvidersOnly, "providers-only", false, "report only provider status")
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "output format: text or json")
	statusCmd.Flags().BoolVar(&statusBreakdown, "breakdown", false, "include the per-directory node breakdown")
	statusCmd.Flags().BoolVar(&statusTestConnectivity, "test-connectivity", false, "probe each provider for live connectivity")
	rootCmd.AddCommand(statusCmd)
}
