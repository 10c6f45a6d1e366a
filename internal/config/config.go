package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DefaultSystemPrompt is used by the prompt runner when no prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant working inside a personal document workspace. " +
	"Answer precisely and stay within the context of the document you are given."

// Config is the merged settings for one folio process. Values come from
// DefaultConfig, then ~/.folio/config.json, then the nearest .folio/config.json
// above the working directory, then the environment.
type Config struct {
	// LocalStore selects the local persistence backend: "sqlite", "badger" or "memory".
	LocalStore string `json:"local_store"`

	// RemoteURL is the remote document store DSN. Empty means local-only.
	// Supported schemes: memory://, postgres://, http://, https://.
	RemoteURL string `json:"remote_url,omitempty"`

	// DocumentName is the logical name of the single shared remote document.
	DocumentName string `json:"document_name"`

	// DebounceMillis is the quiet period before local edits are pushed to the remote store.
	DebounceMillis int `json:"debounce_ms"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `json:"log_level"`

	// AIModel is the chat model used by prompt_run.
	AIModel string `json:"ai_model"`

	// AIBaseURL overrides the OpenAI-compatible API endpoint.
	AIBaseURL string `json:"ai_base_url,omitempty"`

	// AISystemPrompt is sent as the system message with every prompt run.
	AISystemPrompt string `json:"ai_system_prompt"`

	// WebBind and WebPort control the address of `folio serve`.
	WebBind string `json:"web_bind"`
	WebPort int    `json:"web_port"`

	// DisabledTools names MCP tools that are not registered. Unknown names
	// are warned about at startup.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes drops every MCP tool of a type (node, file, link, prompt, ...).
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		LocalStore:     "sqlite",
		DocumentName:   "global_v1",
		DebounceMillis: 2000,
		LogLevel:       "info",
		AIModel:        "gpt-4o-mini",
		AISystemPrompt: DefaultSystemPrompt,
		WebBind:        "127.0.0.1",
		WebPort:        8787,
	}
}

// Debounce returns the remote push quiet period.
func (c *Config) Debounce() time.Duration {
	if c.DebounceMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// ApplyEnv overlays environment variables onto the config.
// FOLIO_REMOTE_URL overrides remote_url; FOLIO_LOG_LEVEL overrides log_level.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("FOLIO_REMOTE_URL")); v != "" {
		c.RemoteURL = v
	}
	if v := strings.TrimSpace(getenv("FOLIO_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

const (
	configFile = "config.json"
	repoDir    = ".folio"
)

// LocalStores lists the accepted values of local_store.
var LocalStores = []string{"sqlite", "badger", "memory"}

// Load reads baseDir/config.json over the defaults. A missing file is not an
// error.
func Load(baseDir string) (*Config, error) {
	layer, err := readLayer(filepath.Join(baseDir, configFile))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), layer), nil
}

// LoadWithRepo layers the global config in globalDir and the repo config found
// from startDir over the defaults. Either file may be absent.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	cfg := DefaultConfig()
	for _, path := range []string{filepath.Join(globalDir, configFile), FindRepoConfig(startDir)} {
		layer, err := readLayer(path)
		if err != nil {
			return nil, err
		}
		cfg = Merge(cfg, layer)
	}
	return cfg, nil
}

// FindRepoConfig returns the path of the closest .folio/config.json at or above
// startDir, or "" when there is none.
func FindRepoConfig(startDir string) string {
	for dir := startDir; ; {
		candidate := filepath.Join(dir, repoDir, configFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		up := filepath.Dir(dir)
		if up == dir {
			return ""
		}
		dir = up
	}
}

// readLayer decodes one config file without applying defaults, so unset fields
// stay zero and do not mask lower layers.
func readLayer(path string) (*Config, error) {
	layer := &Config{}
	if path == "" {
		return layer, nil
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return layer, nil
	case err != nil:
		return nil, err
	}
	if err := json.Unmarshal(data, layer); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return layer, nil
}

// Merge returns base with every non-blank field of overlay applied on top.
// List settings are unioned in order with blanks and duplicates removed.
func Merge(base, overlay *Config) *Config {
	return &Config{
		LocalStore:     firstSet(overlay.LocalStore, base.LocalStore),
		RemoteURL:      firstSet(overlay.RemoteURL, base.RemoteURL),
		DocumentName:   firstSet(overlay.DocumentName, base.DocumentName),
		DebounceMillis: cmp.Or(overlay.DebounceMillis, base.DebounceMillis),
		LogLevel:       firstSet(overlay.LogLevel, base.LogLevel),
		AIModel:        firstSet(overlay.AIModel, base.AIModel),
		AIBaseURL:      firstSet(overlay.AIBaseURL, base.AIBaseURL),
		AISystemPrompt: firstSet(overlay.AISystemPrompt, base.AISystemPrompt),
		WebBind:        firstSet(overlay.WebBind, base.WebBind),
		WebPort:        cmp.Or(overlay.WebPort, base.WebPort),
		DisabledTools:  union(base.DisabledTools, overlay.DisabledTools),
		DisabledTypes:  union(base.DisabledTypes, overlay.DisabledTypes),
	}
}

// Validate reports settings that would fail later at startup.
func (c *Config) Validate() error {
	if !slices.Contains(LocalStores, c.LocalStore) {
		return fmt.Errorf("local_store %q is not one of %s", c.LocalStore, strings.Join(LocalStores, ", "))
	}
	if strings.TrimSpace(c.DocumentName) == "" {
		return errors.New("document_name must not be empty")
	}
	if c.WebPort < 1 || c.WebPort > 65535 {
		return fmt.Errorf("web_port %d is out of range", c.WebPort)
	}
	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func union(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v != "" && !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	return out
}
