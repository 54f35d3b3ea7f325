// Package providerprofile is the out-of-core provider profile registry:
// per-provider TOML files naming a transport kind, model, and API key
// source. See spec.md §1 ("agent/provider profile storage... the core
// sees registries with list, get, validate") and SPEC_FULL.md §DOMAIN
// STACK. Grounded on the same BurntSushi/toml file-registry convention
// as internal/agentprofile.
package providerprofile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/provider"
	"github.com/untoldecay/treectx/internal/provider/anthropic"
)

// Profile is one provider's on-disk TOML definition.
type Profile struct {
	Name      string `toml:"name"`
	Kind      string `toml:"kind"` // "anthropic" | "openai" | "ollama"
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env,omitempty"`
}

// StatusItem matches the JSON shape spec.md §6 requires of `tx provider
// status`/`tx provider list`.
type StatusItem struct {
	ProviderName string `json:"provider_name"`
	ProviderType string `json:"provider_type"`
	Model        string `json:"model"`
	Connectivity string `json:"connectivity,omitempty"` // "ok" | "fail" | "skipped"
}

// Registry resolves provider profiles from a directory of `<name>.toml`
// files.
type Registry struct {
	dir string
}

// Open returns a Registry rooted at dir.
func Open(dir string) *Registry {
	return &Registry{dir: dir}
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name+".toml")
}

// Get loads and parses the profile for name.
func (r *Registry) Get(name string) (Profile, error) {
	data, err := os.ReadFile(r.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Profile{}, fmt.Errorf("%w: provider %q", errs.ErrProviderNotConfigured, name)
		}
		return Profile{}, err
	}
	var p Profile
	if _, err := toml.Decode(string(data), &p); err != nil {
		return Profile{}, fmt.Errorf("parse provider profile %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// List returns every provider profile in dir, sorted by name.
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
		name := strings.TrimSuffix(e.Name(), ".toml")
		p, err := r.Get(name)
		if err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// Validate checks that name's profile exists, names a supported kind
// and model, and (unless checkConnectivity is false) that a live
// Provider can be constructed from it — constructing an anthropic.Client
// validates API-key presence without making a network call.
func (r *Registry) Validate(name string, checkConnectivity bool) error {
	p, err := r.Get(name)
	if err != nil {
		return err
	}
	switch provider.Kind(p.Kind) {
	case provider.KindAnthropic, provider.KindOpenAI, provider.KindOllama:
	default:
		return fmt.Errorf("%w: provider %q has unknown kind %q", errs.ErrProviderNotConfigured, name, p.Kind)
	}
	if p.Model == "" {
		return fmt.Errorf("%w: provider %q has no model", errs.ErrProviderNotConfigured, name)
	}
	if checkConnectivity {
		if _, err := r.New(name); err != nil {
			return err
		}
	}
	return nil
}

// New constructs a live provider.Provider for name. Only
// provider.KindAnthropic has a concrete transport in this module; other
// kinds are accepted by profile validation (so agent profiles can
// reference them without erroring) but fail fast here until a transport
// is wired (SPEC_FULL.md §AMBIENT, "Provider SDK").
func (r *Registry) New(name string) (provider.Provider, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	switch provider.Kind(p.Kind) {
	case provider.KindAnthropic:
		apiKey := ""
		if p.APIKeyEnv != "" {
			apiKey = os.Getenv(p.APIKeyEnv)
		}
		return anthropic.New(apiKey, p.Model)
	default:
		return nil, fmt.Errorf("%w: provider %q has no transport for kind %q", errs.ErrProviderNotConfigured, name, p.Kind)
	}
}

// All constructs every configured provider into a map keyed by name,
// skipping (and reporting) any that fail to construct — used to build
// ctxstore.Deps.Providers at startup.
func (r *Registry) All() (map[string]provider.Provider, map[string]error) {
	profiles, _ := r.List()
	providers := make(map[string]provider.Provider, len(profiles))
	failures := make(map[string]error)
	for _, p := range profiles {
		prov, err := r.New(p.Name)
		if err != nil {
			failures[p.Name] = err
			continue
		}
		providers[p.Name] = prov
	}
	return providers, failures
}

// Put writes p's TOML encoding to dir/<name>.toml, creating dir if
// needed. Used by `tx provider create`/`tx provider edit`.
func (r *Registry) Put(p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("provider profile requires a name")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("encode provider profile %q: %w", p.Name, err)
	}
	return os.WriteFile(r.path(p.Name), buf.Bytes(), 0o644)
}

// Remove deletes name's profile file. Used by `tx provider remove`.
func (r *Registry) Remove(name string) error {
	if err := os.Remove(r.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: provider %q", errs.ErrProviderNotConfigured, name)
		}
		return err
	}
	return nil
}
