package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/3cpo-dev/sputra/internal/components"
	"github.com/3cpo-dev/sputra/internal/sinfile"
	"github.com/3cpo-dev/sputra/internal/telemetry"
)

// fakeEngine writes a shell script that behaves like the engine: it reads the
// seed number from the configuration and stores it as a 1x2 matrix.
func fakeEngine(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a POSIX shell script")
	}
	path := filepath.Join(t.TempDir(), "simtra")
	script := "#!/bin/sh\nset -e\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

const seedEngine = `seed=$(sed -n 's/^ *seed_number: *//p' "$1")
mkdir -p "$2"
printf '# substrate\n%s 1\n' "$seed" > "$2/substrate.txt"`

func writeConfig(t *testing.T, dir string, seed int) string {
	t.Helper()
	name := "run_" + strconv.Itoa(seed)
	ch := &components.Chamber{
		Name: "lab", Shape: components.ShapeBox, Size: [3]float64{1, 1, 1},
		Temperature: 300, Pressure: 0.5, Gas: "Ar", SeedNumber: seed,
	}
	mag := &components.Magnetron{
		Object:    components.DummyObject{Name: "Cu", Shape: components.ShapeCircle, Size: [3]float64{0.05, 0, 0}},
		Element:   "Cu",
		Particles: 1000,
	}
	path := filepath.Join(dir, "scratch", name+sinfile.ExtConfig)
	if err := (sinfile.Writer{}).WriteConfig(filepath.Join(dir, "out", name), ch, mag, nil, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalRunPreservesOrder(t *testing.T) {
	bin := fakeEngine(t, seedEngine)
	dir := t.TempDir()
	var paths []string
	for seed := 1; seed <= 6; seed++ {
		paths = append(paths, writeConfig(t, dir, seed))
	}

	inv := NewLocal(LocalConfig{Binary: bin, Args: []string{PlaceholderConfig, PlaceholderOutput}, Concurrency: 3}).
		WithMetrics(telemetry.NewCollector(false))
	outs, err := inv.Run(context.Background(), paths, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outs) != len(paths) {
		t.Fatalf("got %d outputs, want %d", len(outs), len(paths))
	}
	for i, out := range outs {
		d, ok := out.Object("substrate")
		if !ok {
			t.Fatalf("output %d has no substrate matrix", i)
		}
		if got := d.At(0, 0); got != float64(i+1) {
			t.Errorf("output %d carries seed %v, want %d", i, got, i+1)
		}
		if out.Runs != 1 {
			t.Errorf("output %d Runs = %d, want 1", i, out.Runs)
		}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("config %s should be kept: %v", p, err)
		}
	}
}

func TestLocalRunDeletesInputs(t *testing.T) {
	bin := fakeEngine(t, seedEngine)
	dir := t.TempDir()
	paths := []string{writeConfig(t, dir, 7), writeConfig(t, dir, 8)}

	inv := NewLocal(LocalConfig{Binary: bin, Args: []string{PlaceholderConfig, PlaceholderOutput}})
	if _, err := inv.Run(context.Background(), paths, true); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("config %s should be removed, stat err = %v", p, err)
		}
	}
}

func TestLocalRunFailure(t *testing.T) {
	bin := fakeEngine(t, `echo "bad material" >&2
exit 3`)
	dir := t.TempDir()
	paths := []string{writeConfig(t, dir, 1)}

	inv := NewLocal(LocalConfig{Binary: bin, Concurrency: 1})
	_, err := inv.Run(context.Background(), paths, true)
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if re.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", re.ExitCode)
	}
	if re.Stderr == "" {
		t.Error("stderr not captured")
	}
	// Failed runs keep their inputs for inspection.
	if _, err := os.Stat(paths[0]); err != nil {
		t.Errorf("config should be kept after failure: %v", err)
	}
}

func TestLocalRunMissingBinary(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writeConfig(t, dir, 1)}
	inv := NewLocal(LocalConfig{Binary: filepath.Join(dir, "does-not-exist")})
	if _, err := inv.Run(context.Background(), paths, false); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestNewLocalDefaults(t *testing.T) {
	inv := NewLocal(LocalConfig{})
	cfg := inv.Config()
	if cfg.Binary != "simtra" {
		t.Errorf("Binary = %q", cfg.Binary)
	}
	if cfg.Concurrency != runtime.NumCPU() {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, runtime.NumCPU())
	}
	if inv.Name() != BackendLocal {
		t.Errorf("Name = %q", inv.Name())
	}
}

func TestLocalConfigFromEnv(t *testing.T) {
	t.Setenv("SIMTRA_BINARY", "/opt/simtra/bin/simtra")
	t.Setenv("SIMTRA_ARGS", "--quiet {config}")
	t.Setenv("SIMTRA_CONCURRENCY", "4")
	cfg, err := LocalConfigFromEnv()
	if err != nil {
		t.Fatalf("LocalConfigFromEnv: %v", err)
	}
	if cfg.Binary != "/opt/simtra/bin/simtra" || cfg.Concurrency != 4 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Args) != 2 || cfg.Args[1] != PlaceholderConfig {
		t.Errorf("Args = %q", cfg.Args)
	}

	t.Setenv("SIMTRA_CONCURRENCY", "many")
	if _, err := LocalConfigFromEnv(); err == nil {
		t.Error("expected parse error")
	}
}
