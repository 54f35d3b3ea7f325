package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/plan"
	"github.com/untoldecay/treectx/internal/query"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Generate and read context frames for nodes",
}

var (
	genPath      string
	genNode      string
	genAgent     string
	genProvider  string
	genFrameType string
	genForce     bool
	genNoRecurse bool
)

var contextGenerateCmd = &cobra.Command{
	Use:   "generate [path]",
	Short: "Generate context frames for a path or node, recursively by default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := genPath
		if len(args) == 1 {
			path = args[0]
		}
		target, err := resolveGenerateTarget(path, genNode)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		providerName := genProvider
		if providerName == "" {
			if providerName, err = app.Agents.ProviderName(genAgent); err != nil {
				return err
			}
		}
		opts := plan.Options{
			AgentID:      genAgent,
			ProviderName: providerName,
			FrameType:    genFrameType,
			Recursive:    !genNoRecurse,
			Force:        genForce,
			Source:       "cli",
		}
		result, err := app.Workspace.Generate(ctx, target, opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(enc))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "generated %d/%d frame(s), %d failed\n",
			result.TotalSucceeded, result.TotalAttempted, result.TotalFailed)
		for nodeID, ferr := range result.Failures {
			fmt.Fprintf(cmd.OutOrStdout(), "  FAILED %s: %v\n", nodeID, ferr)
		}
		return nil
	},
}

func resolveGenerateTarget(path, node string) (plan.Target, error) {
	if node != "" {
		id, err := identity.ParseNodeID(node)
		if err != nil {
			return plan.Target{}, fmt.Errorf("parse node id %q: %w", node, err)
		}
		return plan.Target{NodeID: id}, nil
	}
	if path == "" {
		return plan.Target{}, fmt.Errorf("generate requires a path argument or --node")
	}
	return plan.Target{Path: path}, nil
}

var (
	getPath             string
	getNode             string
	getAgent            string
	getFrameType        string
	getMaxFrames        int
	getOrdering         string
	getCombine          bool
	getSeparator        string
	getFormat           string
	getIncludeMetadata  bool
	getIncludeDeleted   bool
)

var contextGetCmd = &cobra.Command{
	Use:   "get [path]",
	Short: "Read the frames attached to a node",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := getPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" && getNode == "" {
			return fmt.Errorf("get requires a path argument or --node")
		}

		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(ctx, app)

		view := query.View{
			MaxFrames:      getMaxFrames,
			ByAgent:        getAgent,
			ByType:         getFrameType,
			ExcludeDeleted: !getIncludeDeleted,
		}
		if getOrdering == "deterministic" {
			view.Ordering = query.Deterministic
		} else {
			view.Ordering = query.Recency
		}

		var nc *query.NodeContext
		if getNode != "" {
			id, perr := identity.ParseNodeID(getNode)
			if perr != nil {
				return fmt.Errorf("parse node id %q: %w", getNode, perr)
			}
			nc, err = app.Workspace.GetNode(ctx, id, view)
		} else {
			nc, err = app.Workspace.GetNodeByPath(ctx, path, view)
		}
		if err != nil {
			return err
		}

		if getFormat == "json" || jsonOutput {
			type frameOut struct {
				FrameID   string `json:"frame_id"`
				AgentID   string `json:"agent_id"`
				FrameType string `json:"frame_type"`
				Content   string `json:"content"`
			}
			out := struct {
				NodeID string     `json:"node_id"`
				Path   string     `json:"path"`
				Frames []frameOut `json:"frames"`
			}{NodeID: nc.NodeID.String(), Path: nc.Path}
			for _, f := range nc.Frames {
				out.Frames = append(out.Frames, frameOut{
					FrameID:   f.FrameID.String(),
					AgentID:   f.AgentID,
					FrameType: f.FrameType,
					Content:   string(f.Content),
				})
			}
			enc, _ := json.MarshalIndent(out, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(enc))
			return nil
		}

		sep := getSeparator
		if sep == "" {
			sep = "\n---\n"
		}
		var chunks []string
		for _, f := range nc.Frames {
			var b strings.Builder
			if getIncludeMetadata {
				fmt.Fprintf(&b, "# agent=%s type=%s frame=%s\n", f.AgentID, f.FrameType, f.FrameID)
			}
			b.Write(f.Content)
			chunks = append(chunks, b.String())
		}
		if getCombine {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(chunks, sep))
		} else {
			for _, c := range chunks {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
		}
		return nil
	},
}

func init() {
	contextGenerateCmd.Flags().StringVar(&genPath, "path", "", "target path")
	contextGenerateCmd.Flags().StringVar(&genNode, "node", "", "target node ID")
	contextGenerateCmd.Flags().StringVar(&genAgent, "agent", "", "agent profile to generate with")
	contextGenerateCmd.Flags().StringVar(&genProvider, "provider", "", "provider profile override")
	contextGenerateCmd.Flags().StringVar(&genFrameType, "frame-type", "summary", "frame type to generate")
	contextGenerateCmd.Flags().BoolVar(&genForce, "force", false, "regenerate even if a head frame already exists")
	contextGenerateCmd.Flags().BoolVar(&genNoRecurse, "no-recursive", false, "generate only the target node")

	contextGetCmd.Flags().StringVar(&getPath, "path", "", "target path")
	contextGetCmd.Flags().StringVar(&getNode, "node", "", "target node ID")
	contextGetCmd.Flags().StringVar(&getAgent, "agent", "", "filter by agent ID")
	contextGetCmd.Flags().StringVar(&getFrameType, "frame-type", "", "filter by frame type")
	contextGetCmd.Flags().IntVar(&getMaxFrames, "max-frames", 0, "limit the number of frames returned")
	contextGetCmd.Flags().StringVar(&getOrdering, "ordering", "recency", "recency or deterministic")
	contextGetCmd.Flags().BoolVar(&getCombine, "combine", false, "join frames with --separator instead of printing them one at a time")
	contextGetCmd.Flags().StringVar(&getSeparator, "separator", "", "separator used with --combine (default: \\n---\\n)")
	contextGetCmd.Flags().StringVar(&getFormat, "format", "text", "output format: text or json")
	contextGetCmd.Flags().BoolVar(&getIncludeMetadata, "include-metadata", false, "prefix each frame with its agent/type/id")
	contextGetCmd.Flags().BoolVar(&getIncludeDeleted, "include-deleted", false, "include tombstoned frames")

	contextCmd.AddCommand(contextGenerateCmd, contextGetCmd)
	rootCmd.AddCommand(contextCmd)
}
