package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/sputra/internal/engine"
)

// Config is the user configuration of the sputra CLI.
type Config struct {
	ScratchDir string              `yaml:"scratch_dir" env:"SPUTRA_SCRATCH_DIR"`
	Store      string              `yaml:"store" env:"SPUTRA_STORE"`
	Backend    string              `yaml:"backend" env:"SPUTRA_BACKEND"`
	Engine     engine.LocalConfig  `yaml:"engine"`
	Remote     engine.RemoteConfig `yaml:"remote"`
	SSH        struct {
		KeyDir     string `yaml:"key_dir" env:"SPUTRA_SSH_KEY_DIR"`
		KnownHosts string `yaml:"known_hosts" env:"SPUTRA_SSH_KNOWN_HOSTS"`
	} `yaml:"ssh"`
	Telemetry struct {
		Enabled  bool   `yaml:"enabled" env:"SPUTRA_TELEMETRY"`
		Textfile string `yaml:"textfile" env:"SPUTRA_METRICS_TEXTFILE"`
	} `yaml:"telemetry"`
}

// ConfigDir resolves $XDG_CONFIG_HOME/sputra or ~/.config/sputra.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "sputra")
}

// DefaultConfigPath is the file LoadConfig reads when no path is given.
func DefaultConfigPath() string { return filepath.Join(ConfigDir(), "config.yaml") }

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	dir := ConfigDir()
	var cfg Config
	cfg.ScratchDir = filepath.Join(os.TempDir(), "sputra")
	cfg.Store = filepath.Join(dir, "runs.db")
	cfg.Backend = engine.BackendLocal
	cfg.Engine.Binary = "simtra"
	cfg.Remote.Port = 22
	cfg.Remote.WorkDir = "/tmp/sputra"
	cfg.Remote.Retries = 3
	cfg.Remote.TimeoutSeconds = 30
	cfg.SSH.KeyDir = filepath.Join(dir, "keys")
	cfg.SSH.KnownHosts = filepath.Join(dir, "known_hosts")
	return cfg
}

// LoadConfig reads YAML configuration from a path on top of DefaultConfig and
// applies environment overrides. If path is empty the default path is used and
// a missing file is not an error. Variables from the "env" file next to the
// default config apply below the process environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("open config: %w", err)
	}

	vars, err := LoadEnvFile("")
	if err != nil {
		return cfg, err
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return cfg, fmt.Errorf("parse env overrides: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields the CLI depends on.
func (c Config) Validate() error {
	if c.ScratchDir == "" {
		return ValidationError{Field: "scratch_dir", Message: "scratch directory is required"}
	}
	switch c.Backend {
	case engine.BackendLocal:
	case engine.BackendRemote:
		if !c.Remote.Enabled() {
			return ValidationError{Field: "remote.host", Message: "remote backend needs a host"}
		}
	default:
		return ValidationError{Field: "backend", Value: c.Backend, Message: "backend must be local or remote"}
	}
	if c.Engine.Concurrency < 0 {
		return ValidationError{Field: "engine.concurrency", Value: fmt.Sprint(c.Engine.Concurrency), Message: "must not be negative"}
	}
	return nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadEnvFile reads $XDG_CONFIG_HOME/sputra/env (or ~/.config/sputra/env)
// and returns key/value pairs. Lines starting with # are ignored. Format: KEY=VALUE
func LoadEnvFile(path string) (map[string]string, error) {
	if path == "" {
		path = filepath.Join(ConfigDir(), "env")
	}
	f, err := os.Open(path)
	if err != nil {
		return map[string]string{}, nil // not fatal if missing
	}
	defer f.Close()
	out := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			out[k] = strings.Trim(v, `"`)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return out, nil
}
