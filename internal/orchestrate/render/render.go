// Package render formats orchestrate reports for `tx status` and `tx
// workspace validate`'s `--format text` output. Styling is
// charmbracelet/lipgloss, gated by internal/ui's NO_COLOR/CLICOLOR
// convention; column alignment is the stdlib text/tabwriter, since
// lipgloss ships no table layout engine in the version this module
// depends on (DESIGN.md notes the split). See SPEC_FULL.md's DOMAIN
// STACK census entry for internal/orchestrate/render.
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/untoldecay/treectx/internal/agentprofile"
	"github.com/untoldecay/treectx/internal/orchestrate"
	"github.com/untoldecay/treectx/internal/providerprofile"
	"github.com/untoldecay/treectx/internal/ui"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// TerminalWidth reports the terminal width, falling back to 80 columns
// when stdout isn't a terminal (piped output, CI logs).
func TerminalWidth() int {
	return ui.GetWidth()
}

func boolStyle(ok bool) lipgloss.Style {
	style := okStyle
	if !ok {
		style = failStyle
	}
	if !ui.ShouldUseColor() {
		return lipgloss.NewStyle()
	}
	return style
}

// styled renders s with style when color output is appropriate, and
// returns s unstyled otherwise (NO_COLOR, CLICOLOR=0, non-TTY stdout).
func styled(style lipgloss.Style, s string) string {
	if !ui.ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

// Status writes a human-readable rendering of a StatusReport.
func Status(w io.Writer, report *orchestrate.StatusReport) {
	fmt.Fprintln(w, styled(headingStyle, "Workspace"))
	if !report.Scanned {
		fmt.Fprintln(w, styled(mutedStyle, "  not scanned yet — run `tx scan`"))
	} else {
		fmt.Fprintf(w, "  root: %s\n", report.Tree.RootHash)
		fmt.Fprintf(w, "  nodes: %d\n", report.Tree.TotalNodes)
		if len(report.Tree.Breakdown) > 0 {
			fmt.Fprintln(w, styled(headingStyle, "  Breakdown by directory"))
			tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
			for _, p := range report.Tree.Breakdown {
				fmt.Fprintf(tw, "    %s\t%d\n", p.Path, p.Nodes)
			}
			tw.Flush()
		}
	}

	if len(report.ContextCoverage) > 0 {
		fmt.Fprintln(w, styled(headingStyle, "Context coverage"))
		tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
		fmt.Fprintf(tw, "  AGENT\tWITH\tWITHOUT\tCOVERAGE\n")
		for _, c := range report.ContextCoverage {
			fmt.Fprintf(tw, "  %s\t%d\t%d\t%.1f%%\n", c.AgentID, c.NodesWithFrame, c.NodesWithoutFrame, c.CoveragePct)
		}
		tw.Flush()
	}

	if len(report.TopPathsByNodeCount) > 0 {
		fmt.Fprintln(w, styled(headingStyle, "Top paths"))
		tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
		for _, p := range report.TopPathsByNodeCount {
			fmt.Fprintf(tw, "  %s\t%d\n", p.Path, p.Nodes)
		}
		tw.Flush()
	}
}

// Validate writes a human-readable rendering of a validation Report.
func Validate(w io.Writer, report *orchestrate.Report) {
	if len(report.Errors) == 0 && len(report.Warnings) == 0 {
		fmt.Fprintln(w, styled(okStyle, "workspace is consistent"))
		return
	}
	for _, e := range report.Errors {
		fmt.Fprintln(w, styled(failStyle, "error: ")+e)
	}
	for _, warn := range report.Warnings {
		fmt.Fprintln(w, styled(mutedStyle, "warning: ")+warn)
	}
}

// AgentList writes a table of agent status items.
func AgentList(w io.Writer, items []agentprofile.StatusItem) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "AGENT\tROLE\tVALID\tPROMPTS\n")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			it.AgentID, it.Role,
			styled(boolStyle(it.Valid), strings.ToUpper(fmt.Sprint(it.Valid))),
			styled(boolStyle(it.PromptPathExist), strings.ToUpper(fmt.Sprint(it.PromptPathExist))))
	}
	tw.Flush()
}

// ProviderList writes a table of provider status items.
func ProviderList(w io.Writer, items []providerprofile.StatusItem) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "PROVIDER\tTYPE\tMODEL\tCONNECTIVITY\n")
	for _, it := range items {
		conn := it.Connectivity
		if conn == "" {
			conn = "skipped"
		}
		style := mutedStyle
		if conn == "ok" {
			style = okStyle
		} else if conn == "fail" {
			style = failStyle
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ProviderName, it.ProviderType, it.Model, styled(style, conn))
	}
	tw.Flush()
}
