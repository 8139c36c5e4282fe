// Package config handles configuration loading and validation for the
// workspace agent. A config file binds one working directory to one
// backend endpoint and workspace.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config location relative to the working directory.
const DefaultFile = ".workspace/config.toml"

// Config is the agent's per-directory configuration.
type Config struct {
	// Endpoint is the backend base URL.
	Endpoint string `toml:"endpoint" yaml:"endpoint" json:"endpoint"`

	// WorkspaceID is the workspace this directory syncs to.
	WorkspaceID string `toml:"workspace_id" yaml:"workspace_id" json:"workspace_id"`

	// File is the watched document path, relative to the config's
	// directory unless absolute.
	File string `toml:"file" yaml:"file" json:"file"`

	// DebounceMs is the file-watch settle window in milliseconds.
	DebounceMs int `toml:"debounce_ms" yaml:"debounce_ms" json:"debounce_ms"`

	// SchemaPath optionally points at a JSON Schema the document must
	// satisfy before it is synced.
	SchemaPath string `toml:"schema_path" yaml:"schema_path" json:"schema_path"`
}

// Default returns a Config with the standard timings filled in.
func Default() *Config {
	return &Config{
		File:       "document.json",
		DebounceMs: 300,
	}
}

// Load reads the config at path, applies environment overrides and
// validates the result. The format follows the file extension; TOML is
// the default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets the environment win over the file, mirroring the
// credential override for headless use.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("WORKSPACE_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("WORKSPACE_ID"); v != "" {
		c.WorkspaceID = v
	}
	if v := os.Getenv("WORKSPACE_FILE"); v != "" {
		c.File = v
	}
	if v := os.Getenv("WORKSPACE_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.DebounceMs = ms
		}
	}
}

// Validate checks the config for required fields and sane timings.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("config: endpoint is required")
	}
	if c.WorkspaceID == "" {
		return errors.New("config: workspace_id is required; run init first")
	}
	if c.File == "" {
		return errors.New("config: file is required")
	}
	if c.DebounceMs <= 0 {
		return fmt.Errorf("config: debounce_ms must be positive, got %d", c.DebounceMs)
	}
	return nil
}

// Save writes the config as TOML at path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ResolveFile returns the watched file path, interpreting a relative
// File against the directory holding the config.
func (c *Config) ResolveFile(configPath string) string {
	if filepath.IsAbs(c.File) {
		return c.File
	}
	base := filepath.Dir(configPath)
	if filepath.Base(base) == ".workspace" {
		base = filepath.Dir(base)
	}
	return filepath.Join(base, c.File)
}
