package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/3cpo-dev/sputra/internal/engine"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != engine.BackendLocal || cfg.Engine.Binary != "simtra" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if filepath.Base(cfg.Store) != "runs.db" {
		t.Errorf("Store = %q", cfg.Store)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	path := filepath.Join(home, "custom.yaml")
	content := `scratch_dir: /var/tmp/sputra
backend: remote
engine:
  binary: /opt/simtra/simtra
  concurrency: 2
remote:
  host: engine.lab
  user: sim
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(home, "sputra"), 0o755); err != nil {
		t.Fatal(err)
	}
	envFile := "# local overrides\nSPUTRA_REMOTE_USER=\"builder\"\nSIMTRA_CONCURRENCY=3\n"
	if err := os.WriteFile(filepath.Join(home, "sputra", "env"), []byte(envFile), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIMTRA_CONCURRENCY", "8")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ScratchDir != "/var/tmp/sputra" || cfg.Engine.Binary != "/opt/simtra/simtra" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.Remote.User != "builder" {
		t.Errorf("env file override: user = %q", cfg.Remote.User)
	}
	if cfg.Engine.Concurrency != 8 {
		t.Errorf("process env should win: concurrency = %d", cfg.Engine.Concurrency)
	}
	if cfg.Remote.Port != 22 {
		t.Errorf("default port lost: %d", cfg.Remote.Port)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("explicit missing file: %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("backend: cluster\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var ve ValidationError
	if _, err := LoadConfig(path); !errors.As(err, &ve) || ve.Field != "backend" {
		t.Errorf("unknown backend: %v", err)
	}

	if err := os.WriteFile(path, []byte("backend: remote\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.As(err, &ve) || ve.Field != "remote.host" {
		t.Errorf("remote without host: %v", err)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Engine.Args = []string{"{config}", "{output}"}
	cfg.Telemetry.Enabled = true
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(got.Engine.Args) != 2 || !got.Telemetry.Enabled {
		t.Errorf("round trip lost values: %+v", got)
	}
}
