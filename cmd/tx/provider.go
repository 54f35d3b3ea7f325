package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/treectx/internal/orchestrate/render"
	"github.com/untoldecay/treectx/internal/providerprofile"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Inspect and administer provider profiles",
}

var providerTestConnectivity bool

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured provider profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		profiles, err := app.Providers.List()
		if err != nil {
			return err
		}
		items := buildProviderStatusItems(app, profiles, providerTestConnectivity)
		if jsonOutput {
			enc, _ := json.MarshalIndent(items, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(enc))
		} else {
			render.ProviderList(cmd.OutOrStdout(), items)
		}
		return nil
	},
}

var providerShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one provider profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		p, err := app.Providers.Get(args[0])
		if err != nil {
			return err
		}
		enc, _ := json.MarshalIndent(p, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(enc))
		return nil
	},
}

var providerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider status (alias for `tx status --providers-only`)",
	RunE:  providerListCmd.RunE,
}

var (
	providerValidateCheckModel bool
	providerValidateVerbose    bool
)

var providerValidateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Validate one provider profile's kind, model, and (optionally) connectivity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		if providerValidateCheckModel {
			if _, err := app.Providers.Get(args[0]); err != nil {
				return err
			}
		}
		if err := app.Providers.Validate(args[0], providerTestConnectivity); err != nil {
			return err
		}
		if providerValidateVerbose {
			fmt.Fprintf(cmd.OutOrStdout(), "provider %q is valid (connectivity checked: %v)\n",
				args[0], providerTestConnectivity)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "provider %q is valid\n", args[0])
		}
		return nil
	},
}

var (
	providerKind      string
	providerModel     string
	providerAPIKeyEnv string
)

func providerProfileFromFlags(name string) providerprofile.Profile {
	return providerprofile.Profile{
		Name:      name,
		Kind:      providerKind,
		Model:     providerModel,
		APIKeyEnv: providerAPIKeyEnv,
	}
}

var providerCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new provider profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		if _, err := app.Providers.Get(args[0]); err == nil {
			return fmt.Errorf("provider %q already exists", args[0])
		}
		return app.Providers.Put(providerProfileFromFlags(args[0]))
	},
}

var providerEditCmd = &cobra.Command{
	Use:   "edit <name>",
	Short: "Overwrite fields of an existing provider profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		existing, err := app.Providers.Get(args[0])
		if err != nil {
			return err
		}
		updated := providerProfileFromFlags(args[0])
		if !cmd.Flags().Changed("kind") {
			updated.Kind = existing.Kind
		}
		if !cmd.Flags().Changed("model") {
			updated.Model = existing.Model
		}
		if !cmd.Flags().Changed("api-key-env") {
			updated.APIKeyEnv = existing.APIKeyEnv
		}
		return app.Providers.Put(updated)
	},
}

var providerRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a provider profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)
		return app.Providers.Remove(args[0])
	},
}

func buildProviderStatusItems(app interface {
	Providers *providerprofile.Registry
}, profiles []providerprofile.Profile, testConnectivity bool) []providerprofile.StatusItem {
	items := make([]providerprofile.StatusItem, 0, len(profiles))
	for _, p := range profiles {
		item := providerprofile.StatusItem{ProviderName: p.Name, ProviderType: p.Kind, Model: p.Model}
		if testConnectivity {
			if err := app.Providers.Validate(p.Name, true); err == nil {
				item.Connectivity = "ok"
			} else {
				item.Connectivity = "fail"
			}
		}
		items = append(items, item)
	}
	return items
}

func init() {
	providerListCmd.Flags().BoolVar(&providerTestConnectivity, "test-connectivity", false, "probe each provider for live connectivity")
	providerStatusCmd.Flags().BoolVar(&providerTestConnectivity, "test-connectivity", false, "probe each provider for live connectivity")
	providerValidateCmd.Flags().BoolVar(&providerTestConnectivity, "test-connectivity", false, "probe the provider for live connectivity")
	providerValidateCmd.Flags().BoolVar(&providerValidateCheckModel, "check-model", false, "also confirm the profile resolves without decode errors")
	providerValidateCmd.Flags().BoolVar(&providerValidateVerbose, "verbose", false, "print what was checked")

	for _, c := range []*cobra.Command{providerCreateCmd, providerEditCmd} {
		c.Flags().StringVar(&providerKind, "kind", "", "provider kind: anthropic, openai, or ollama")
		c.Flags().StringVar(&providerModel, "model", "", "model identifier")
		c.Flags().StringVar(&providerAPIKeyEnv, "api-key-env", "", "environment variable holding the API key")
	}

	providerCmd.AddCommand(providerListCmd, providerShowCmd, providerStatusCmd, providerValidateCmd,
		providerCreateCmd, providerEditCmd, providerRemoveCmd)
	rootCmd.AddCommand(providerCmd)
}
