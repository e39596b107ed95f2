package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/sputra/pkg/api"
)

// LoadSystemSpec reads a system description. Unknown fields are rejected.
func LoadSystemSpec(path string) (*api.SystemSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open system spec: %w", err)
	}
	defer f.Close()
	var spec api.SystemSpec
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse system spec %s: empty document", path)
		}
		return nil, fmt.Errorf("parse system spec %s: %w", path, err)
	}
	if err := validateSpec(&spec); err != nil {
		return nil, fmt.Errorf("system spec %s: %w", path, err)
	}
	return &spec, nil
}

func validateSpec(spec *api.SystemSpec) error {
	if spec.Chamber == "" {
		return ValidationError{Field: "chamber", Message: "a chamber file is required"}
	}
	if len(spec.Magnetrons) == 0 {
		return ValidationError{Field: "magnetrons", Message: "at least one magnetron is required"}
	}
	for i, m := range spec.Magnetrons {
		if m.Key == "" || m.File == "" {
			return ValidationError{Field: "magnetrons", Value: strconv.Itoa(i), Message: "key and file are required"}
		}
	}
	if spec.Runs < 0 {
		return ValidationError{Field: "runs", Value: strconv.Itoa(spec.Runs), Message: "must not be negative"}
	}
	return nil
}

// FromSystemSpec builds a system from a description whose relative paths are
// resolved against baseDir, and applies its ion energies.
func FromSystemSpec(spec *api.SystemSpec, baseDir string, opts ...Option) (*SputterSystem, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	mags := make([]FileEntry, len(spec.Magnetrons))
	for i, m := range spec.Magnetrons {
		mags[i] = FileEntry{Key: m.Key, Path: resolve(m.File)}
	}
	objects := make([]string, len(spec.Objects))
	for i, o := range spec.Objects {
		objects[i] = resolve(o)
	}
	output := spec.Output
	if output == "" {
		output = "results"
	}
	sys, err := MultipleFromFiles(resolve(spec.Chamber), mags, objects, resolve(output), opts...)
	if err != nil {
		return nil, err
	}
	if len(spec.IonEnergies) > 0 {
		if err := sys.SetIonEnergies(spec.IonEnergies); err != nil {
			return nil, fmt.Errorf("ion energies: %w", err)
		}
	}
	return sys, nil
}
