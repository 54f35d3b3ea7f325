package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/provider"
	"github.com/untoldecay/treectx/internal/storage/headindex"
)

// buildMessages assembles the system/user message pair for req, exactly
// as spec.md §4.11 describes. File and directory nodes diverge after the
// task block: a file node's user message wraps its own content (or a
// binary placeholder); a directory node's user message aggregates its
// children's current head frames for the same frame_type.
func (q *Queue) buildMessages(ctx context.Context, req Request) ([]provider.Message, error) {
	system, err := q.agents.SystemPrompt(req.AgentID)
	if err != nil {
		return nil, err
	}

	var userBody string
	if req.NodeKind == identity.NodeDir {
		userBody, err = q.renderDirectoryBody(ctx, req)
	} else {
		userBody, err = q.renderFileBody(req)
	}
	if err != nil {
		return nil, err
	}

	if tmpl, ok := q.agents.ResponseTemplate(req.AgentID); ok && tmpl != "" {
		userBody += "\n\nRespond using this structure: " + tmpl
	}

	return []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userBody},
	}, nil
}

type filePromptData struct {
	Path     string
	NodeType string
	FileSize int64
}

func (q *Queue) renderFileBody(req Request) (string, error) {
	tmplSrc, err := q.agents.FileUserPrompt(req.AgentID)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("file-user").Parse(tmplSrc)
	if err != nil {
		return "", fmt.Errorf("parse file user prompt for agent %q: %w", req.AgentID, err)
	}

	var buf strings.Builder
	data := filePromptData{Path: req.Path, NodeType: "file"}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render file user prompt for agent %q: %w", req.AgentID, err)
	}

	content, err := q.files.ReadFile(req.Path)
	if err != nil {
		return "", fmt.Errorf("read %q for payload assembly: %w", req.Path, err)
	}

	fileBlock := fileContentBlock(content)
	return fmt.Sprintf("<file path=%q>\n%s\n</file>\n%s", req.Path, fileBlock, buf.String()), nil
}

// fileContentBlock returns the literal content block, or a binary
// placeholder when content is not valid UTF-8.
func fileContentBlock(content []byte) string {
	if !utf8.Valid(content) {
		return fmt.Sprintf("Binary file (%d bytes). No text content sent.", len(content))
	}
	return string(content)
}

type dirPromptData struct {
	Path     string
	NodeType string
}

func (q *Queue) renderDirectoryBody(ctx context.Context, req Request) (string, error) {
	tmplSrc, err := q.agents.DirectoryUserPrompt(req.AgentID)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("dir-user").Parse(tmplSrc)
	if err != nil {
		return "", fmt.Errorf("parse directory user prompt for agent %q: %w", req.AgentID, err)
	}

	var buf strings.Builder
	data := dirPromptData{Path: req.Path, NodeType: "directory"}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render directory user prompt for agent %q: %w", req.AgentID, err)
	}

	rec, err := q.nodes.Get(ctx, req.NodeID)
	if err != nil {
		return "", err
	}

	type child struct {
		path    string
		content string
	}
	var children []child
	for _, childID := range rec.Children {
		childRec, err := q.nodes.Get(ctx, childID)
		if err != nil {
			continue // descendant already gone; skip
		}
		frameID, ok := q.heads.Get(headindex.Key{Node: childID, FrameType: req.FrameType})
		if !ok {
			continue
		}
		f, err := q.frames.Get(ctx, frameID)
		if err != nil {
			continue
		}
		children = append(children, child{path: childRec.Path, content: string(f.Content)})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].path < children[j].path })

	var agg strings.Builder
	for _, c := range children {
		fmt.Fprintf(&agg, "<child path=%q>\n%s\n</child>\n", c.path, c.content)
	}

	return agg.String() + buf.String(), nil
}
