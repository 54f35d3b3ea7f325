package render_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/untoldecay/treectx/internal/agentprofile"
	"github.com/untoldecay/treectx/internal/orchestrate"
	"github.com/untoldecay/treectx/internal/orchestrate/render"
	"github.com/untoldecay/treectx/internal/providerprofile"
)

func TestStatusRendersUnscannedWorkspace(t *testing.T) {
	var buf bytes.Buffer
	render.Status(&buf, &orchestrate.StatusReport{Scanned: false})
	require.Contains(t, buf.String(), "not scanned yet")
}

func TestStatusRendersScannedWorkspace(t *testing.T) {
	var buf bytes.Buffer
	render.Status(&buf, &orchestrate.StatusReport{
		Scanned: true,
		Tree:    &orchestrate.TreeSummary{RootHash: "deadbeef", TotalNodes: 3},
		ContextCoverage: []orchestrate.AgentCoverage{
			{AgentID: "summarizer", NodesWithFrame: 2, NodesWithoutFrame: 1, CoveragePct: 66.6},
		},
	})
	out := buf.String()
	require.Contains(t, out, "deadbeef")
	require.Contains(t, out, "summarizer")
}

func TestValidateRendersCleanReport(t *testing.T) {
	var buf bytes.Buffer
	render.Validate(&buf, &orchestrate.Report{})
	require.Contains(t, buf.String(), "consistent")
}

func TestValidateRendersErrorsAndWarnings(t *testing.T) {
	var buf bytes.Buffer
	render.Validate(&buf, &orchestrate.Report{Errors: []string{"boom"}, Warnings: []string{"heads up"}})
	out := buf.String()
	require.Contains(t, out, "boom")
	require.Contains(t, out, "heads up")
}

func TestAgentListRendersRows(t *testing.T) {
	var buf bytes.Buffer
	render.AgentList(&buf, []agentprofile.StatusItem{{AgentID: "w", Role: "writer", Valid: true, PromptPathExist: true}})
	require.Contains(t, buf.String(), "writer")
}

func TestProviderListRendersRows(t *testing.T) {
	var buf bytes.Buffer
	render.ProviderList(&buf, []providerprofile.StatusItem{{ProviderName: "anthropic-default", ProviderType: "anthropic", Model: "claude", Connectivity: "ok"}})
	require.Contains(t, buf.String(), "anthropic-default")
}
