// Package config resolves tx's runtime configuration: the workspace
// root, the per-workspace data directory, and the generation pipeline's
// tunables. It mirrors the teacher's internal/config split between a
// viper-backed YAML runtime config (env-bound under a TX_ prefix here,
// BD_ there) and the TOML-backed agent/provider profile directories this
// core only reads through internal/agentprofile and
// internal/providerprofile's list/get/validate surface. See
// SPEC_FULL.md §AMBIENT and §6 ("on-disk layout").
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration for one invocation of tx.
type Config struct {
	// WorkspaceRoot is the absolute path to the tree being tracked.
	WorkspaceRoot string

	// DataHome is this workspace's data directory: the XDG-style data
	// root (default $XDG_DATA_HOME/treectx, falling back to
	// ~/.local/share/treectx) joined with a per-workspace key.
	DataHome string

	// AgentsDir and ProvidersDir hold TOML profile files, under
	// $XDG_CONFIG_HOME/treectx by default.
	AgentsDir    string
	ProvidersDir string

	// Queue/executor/watch tunables, all overridable via TX_* env vars
	// or a config.yaml.
	QueueCapacity    int
	QueueMaxRetries  int
	RatePerSecond    float64
	RateBurst        int
	ExecutorWorkers  int
	WatchDebounceMS  int
	WatchBatchMS     int
	WatchBatchSize   int
	WatchMaxRegenDep int
}

var v *viper.Viper

// Load resolves configuration for workspaceRoot (absolute or relative to
// cwd). It follows the teacher's own precedence: env vars override a
// config.yaml found by walking up from the workspace root for a
// `.treectx/config.yaml`,
// then the user config directory, then defaults.
func Load(workspaceRoot string) (*Config, error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	for dir := root; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".treectx", "config.yaml")
		if _, statErr := os.Stat(candidate); statErr == nil {
			v.SetConfigFile(candidate)
			configFileSet = true
			break
		}
	}
	if !configFileSet {
		if configDir, cfgErr := os.UserConfigDir(); cfgErr == nil {
			candidate := filepath.Join(configDir, "treectx", "config.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("TX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("data-home", defaultDataHome())
	v.SetDefault("config-home", defaultConfigHome())
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.max-retries", 3)
	v.SetDefault("queue.rate-per-second", 2.0)
	v.SetDefault("queue.rate-burst", 4)
	v.SetDefault("executor.workers", 4)
	v.SetDefault("watch.debounce-ms", 100)
	v.SetDefault("watch.batch-window-ms", 50)
	v.SetDefault("watch.batch-size", 100)
	v.SetDefault("watch.max-regen-depth", 3)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	configHome := v.GetString("config-home")

	return &Config{
		WorkspaceRoot:    root,
		DataHome:         filepath.Join(v.GetString("data-home"), workspaceKey(root)),
		AgentsDir:        filepath.Join(configHome, "agents"),
		ProvidersDir:     filepath.Join(configHome, "providers"),
		QueueCapacity:    v.GetInt("queue.capacity"),
		QueueMaxRetries:  v.GetInt("queue.max-retries"),
		RatePerSecond:    v.GetFloat64("queue.rate-per-second"),
		RateBurst:        v.GetInt("queue.rate-burst"),
		ExecutorWorkers:  v.GetInt("executor.workers"),
		WatchDebounceMS:  v.GetInt("watch.debounce-ms"),
		WatchBatchMS:     v.GetInt("watch.batch-window-ms"),
		WatchBatchSize:   v.GetInt("watch.batch-size"),
		WatchMaxRegenDep: v.GetInt("watch.max-regen-depth"),
	}, nil
}

// defaultDataHome mirrors the teacher's manual os.UserConfigDir/
// os.UserHomeDir XDG fallback chain (no external xdg library), adapted
// to XDG_DATA_HOME's convention instead of config.
func defaultDataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "treectx")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "treectx")
	}
	return filepath.Join(".", ".treectx-data")
}

func defaultConfigHome() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "treectx")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".treectx")
	}
	return filepath.Join(".", ".treectx-config")
}

// workspaceKey derives the per-workspace data directory name from its
// absolute path, so two workspaces never collide under one data home.
func workspaceKey(absRoot string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(absRoot))
	base := filepath.Base(absRoot)
	return fmt.Sprintf("%s-%08x", sanitize(base), h.Sum32())
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "workspace"
	}
	return b.String()
}
