package core

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/3cpo-dev/sputra/internal/sinfile"
)

func writeSystemFiles(t *testing.T, dir string) {
	t.Helper()
	if err := (sinfile.Writer{}).WriteConfig(dir, testChamber(), testMagnetron("base", "Ti", 0), nil, filepath.Join(dir, "chamber.sin")); err != nil {
		t.Fatal(err)
	}
	if err := sinfile.WriteMagnetron(filepath.Join(dir, "mags", "ti.smo"), testMagnetron("target-Ti", "Ti", -0.1)); err != nil {
		t.Fatal(err)
	}
	if err := sinfile.WriteMagnetron(filepath.Join(dir, "mags", "cu.smo"), testMagnetron("target-Cu", "Cu", 0.1)); err != nil {
		t.Fatal(err)
	}
	if err := sinfile.WriteDummyObject(filepath.Join(dir, "substrate.sdo"), testSubstrate()); err != nil {
		t.Fatal(err)
	}
}

func TestFromSystemSpec(t *testing.T) {
	dir := t.TempDir()
	writeSystemFiles(t, dir)
	spec := `name: cosputter
chamber: chamber.sin
magnetrons:
  - key: "1"
    file: mags/ti.smo
  - key: "2"
    file: mags/cu.smo
objects: [substrate.sdo]
output: out
runs: 3
ion_energies:
  "2": 150
`
	path := filepath.Join(dir, "system.yaml")
	if err := os.WriteFile(path, []byte(spec), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSystemSpec(path)
	if err != nil {
		t.Fatalf("LoadSystemSpec: %v", err)
	}
	if s.Runs != 3 || s.Name != "cosputter" {
		t.Errorf("spec = %+v", s)
	}
	sys, err := FromSystemSpec(s, dir, WithInvoker(&fakeInvoker{}))
	if err != nil {
		t.Fatalf("FromSystemSpec: %v", err)
	}
	if got := sys.Keys(); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("Keys = %v", got)
	}
	if sys.OutputPath() != filepath.Join(dir, "out") {
		t.Errorf("OutputPath = %s", sys.OutputPath())
	}
	if m, _ := sys.Magnetron("2"); m.MaxIonEnergy != 150 {
		t.Errorf("ion energy of 2 = %v", m.MaxIonEnergy)
	}
	if m, _ := sys.Magnetron("1"); m.MaxIonEnergy != 300 {
		t.Errorf("ion energy of 1 = %v", m.MaxIonEnergy)
	}
}

func TestLoadSystemSpecErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown field": "chamber: c.sin\nmagnetrons: [{key: a, file: a.smo}]\ncathodes: 2\n",
		"no chamber":    "magnetrons: [{key: a, file: a.smo}]\n",
		"no magnetrons": "chamber: c.sin\n",
		"empty key":     "chamber: c.sin\nmagnetrons: [{file: a.smo}]\n",
		"empty":         "",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadSystemSpec(path); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := LoadSystemSpec(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing spec: %v", err)
	}
}
