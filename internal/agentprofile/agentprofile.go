// Package agentprofile is the out-of-core agent profile registry:
// per-agent TOML files naming a role, a default provider, and the
// prompt templates payload assembly renders (spec.md §1, "agent/
// provider profile storage ... the core sees registries with list, get,
// validate"). Grounded on the teacher's BurntSushi/toml formula-file
// convention (cmd/bd/formula.go) generalized from workflow formulas to
// agent profiles.
package agentprofile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/untoldecay/treectx/internal/errs"
)

// Profile is one agent's on-disk TOML definition.
type Profile struct {
	ID                      string `toml:"id"`
	Role                    string `toml:"role"`
	ProviderName            string `toml:"provider"`
	SystemPromptPath        string `toml:"system_prompt_path"`
	FileUserPromptPath      string `toml:"file_user_prompt_path"`
	DirectoryUserPromptPath string `toml:"directory_user_prompt_path"`
	ResponseTemplatePath    string `toml:"response_template_path,omitempty"`
}

// StatusItem matches the JSON shape spec.md §6 requires of `tx agent
// status`/`tx agent list`.
type StatusItem struct {
	AgentID         string `json:"agent_id"`
	Role            string `json:"role"`
	Valid           bool   `json:"valid"`
	PromptPathExist bool   `json:"prompt_path_exists"`
}

// Registry resolves agent profiles from a directory of `<id>.toml`
// files, each alongside its prompt files (resolved relative to dir
// unless absolute).
type Registry struct {
	dir string
}

// Open returns a Registry rooted at dir. dir need not exist yet; List
// then returns an empty set rather than an error, matching the
// teacher's "search path may not exist" tolerance in formula.go.
func Open(dir string) *Registry {
	return &Registry{dir: dir}
}

func (r *Registry) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.dir, p)
}

func (r *Registry) path(id string) string {
	return filepath.Join(r.dir, id+".toml")
}

// Get loads and parses the profile for id.
func (r *Registry) Get(id string) (Profile, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Profile{}, fmt.Errorf("%w: agent %q", errs.ErrAgentNotConfigured, id)
		}
		return Profile{}, err
	}
	var p Profile
	if _, err := toml.Decode(string(data), &p); err != nil {
		return Profile{}, fmt.Errorf("parse agent profile %q: %w", id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

// List returns every agent profile in dir, sorted by id. A missing dir
// yields an empty, non-error list.
func (r *Registry) List() ([]Profile, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var profiles []Profile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".toml")
		p, err := r.Get(id)
		if err != nil {
			continue // skip unparsable profiles; validate() surfaces them
		}
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

// Validate checks that id's profile exists, names a role and provider,
// and that every declared prompt path is readable.
func (r *Registry) Validate(id string) error {
	p, err := r.Get(id)
	if err != nil {
		return err
	}
	if p.Role == "" {
		return fmt.Errorf("%w: agent %q has no role", errs.ErrAgentNotConfigured, id)
	}
	if p.ProviderName == "" {
		return fmt.Errorf("%w: agent %q has no provider", errs.ErrProviderNotConfigured, id)
	}
	if p.SystemPromptPath == "" || p.FileUserPromptPath == "" || p.DirectoryUserPromptPath == "" {
		return fmt.Errorf("%w: agent %q is missing a required prompt path", errs.ErrMissingPrompts, id)
	}
	for _, path := range []string{p.SystemPromptPath, p.FileUserPromptPath, p.DirectoryUserPromptPath} {
		if _, err := os.Stat(r.resolve(path)); err != nil {
			return fmt.Errorf("%w: %s", errs.ErrMissingPromptFile, r.resolve(path))
		}
	}
	return nil
}

// Status reports StatusItem for id without returning an error, for `tx
// agent list`/`tx agent status` to render a table across every profile
// even when some are invalid.
func (r *Registry) Status(id string) StatusItem {
	p, err := r.Get(id)
	if err != nil {
		return StatusItem{AgentID: id}
	}
	valid := r.Validate(id) == nil
	_, statErr := os.Stat(r.resolve(p.SystemPromptPath))
	return StatusItem{AgentID: id, Role: p.Role, Valid: valid, PromptPathExist: statErr == nil}
}

// SystemPrompt satisfies internal/queue.AgentPrompts.
func (r *Registry) SystemPrompt(agentID string) (string, error) {
	return r.readPrompt(agentID, func(p Profile) string { return p.SystemPromptPath })
}

// FileUserPrompt satisfies internal/queue.AgentPrompts.
func (r *Registry) FileUserPrompt(agentID string) (string, error) {
	return r.readPrompt(agentID, func(p Profile) string { return p.FileUserPromptPath })
}

// DirectoryUserPrompt satisfies internal/queue.AgentPrompts.
func (r *Registry) DirectoryUserPrompt(agentID string) (string, error) {
	return r.readPrompt(agentID, func(p Profile) string { return p.DirectoryUserPromptPath })
}

// ResponseTemplate satisfies internal/queue.AgentPrompts. The second
// return value is false when the agent declares no response template.
func (r *Registry) ResponseTemplate(agentID string) (string, bool) {
	p, err := r.Get(agentID)
	if err != nil || p.ResponseTemplatePath == "" {
		return "", false
	}
	data, err := os.ReadFile(r.resolve(p.ResponseTemplatePath))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (r *Registry) readPrompt(agentID string, field func(Profile) string) (string, error) {
	p, err := r.Get(agentID)
	if err != nil {
		return "", err
	}
	path := field(p)
	if path == "" {
		return "", fmt.Errorf("%w: agent %q", errs.ErrMissingPrompts, agentID)
	}
	data, err := os.ReadFile(r.resolve(path))
	if err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrMissingPromptFile, r.resolve(path))
	}
	return string(data), nil
}

// ProviderName returns the default provider for agentID.
func (r *Registry) ProviderName(agentID string) (string, error) {
	p, err := r.Get(agentID)
	if err != nil {
		return "", err
	}
	return p.ProviderName, nil
}

// Put writes p's TOML encoding to dir/<id>.toml, creating dir if needed.
// Used by `tx agent create`/`tx agent edit`.
func (r *Registry) Put(p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("agent profile requires an id")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("encode agent profile %q: %w", p.ID, err)
	}
	return os.WriteFile(r.path(p.ID), buf.Bytes(), 0o644)
}

// Remove deletes id's profile file. Used by `tx agent remove`.
func (r *Registry) Remove(id string) error {
	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: agent %q", errs.ErrAgentNotConfigured, id)
		}
		return err
	}
	return nil
}
