// Package sinfile reads and writes engine configuration files.
//
// A ".sin" file holds one complete engine input: the output directory, the
// chamber, the single active magnetron and the passive objects. ".smo" files
// hold a lone magnetron and ".sdo" files a lone dummy object, so scenes can be
// assembled from separate component files.
package sinfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/sputra/internal/components"
)

// File extensions.
const (
	ExtConfig    = ".sin"
	ExtMagnetron = ".smo"
	ExtObject    = ".sdo"
)

// Document is the content of a ".sin" file.
type Document struct {
	OutputPath string                   `yaml:"output"`
	Chamber    *components.Chamber      `yaml:"chamber"`
	Magnetron  *components.Magnetron    `yaml:"magnetron"`
	Objects    []components.DummyObject `yaml:"objects"`
}

type magnetronFile struct {
	Magnetron *components.Magnetron `yaml:"magnetron"`
}

type objectFile struct {
	Object *components.DummyObject `yaml:"object"`
}

// Validate checks that the document can be handed to the engine.
func (d *Document) Validate() error {
	if d.OutputPath == "" {
		return errors.New("output path is required")
	}
	if d.Chamber == nil {
		return errors.New("chamber is required")
	}
	if err := d.Chamber.Validate(); err != nil {
		return err
	}
	if d.Magnetron == nil {
		return errors.New("magnetron is required")
	}
	if err := d.Magnetron.Validate(); err != nil {
		return err
	}
	for _, o := range d.Objects {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return CheckRecordedNames(append([]components.DummyObject{d.Magnetron.Geometry()}, d.Objects...))
}

// CheckRecordedNames reports objects that save averaged data under the same
// name. The engine writes one "<name>.txt" per such object, so their names
// must be unique. Objects that only act as geometry may share names.
func CheckRecordedNames(objects []components.DummyObject) error {
	seen := make(map[string]bool, len(objects))
	for _, o := range objects {
		if !o.SaveAveragedData {
			continue
		}
		if seen[o.Name] {
			return fmt.Errorf("recorded object name %q used twice", o.Name)
		}
		seen[o.Name] = true
	}
	return nil
}

// Encode writes doc as YAML.
func Encode(w io.Writer, doc *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode sin: %w", err)
	}
	return enc.Close()
}

// Decode parses and validates a ".sin" document.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := decodeStrict(r, &doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sin: %w", err)
	}
	return &doc, nil
}

// Read loads a ".sin" file.
func Read(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read sin %s: %w", path, err)
	}
	defer f.Close()
	doc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read sin %s: %w", path, err)
	}
	return doc, nil
}

// Write stores doc at path, creating the parent directory.
func Write(path string, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("write sin %s: %w", path, err)
	}
	return writeFile(path, func(w io.Writer) error { return Encode(w, doc) })
}

// ReadOutputPath returns the output directory recorded in a ".sin" file.
func ReadOutputPath(path string) (string, error) {
	doc, err := Read(path)
	if err != nil {
		return "", err
	}
	return doc.OutputPath, nil
}

// ReadChamber loads the chamber of a ".sin" file.
func ReadChamber(path string) (*components.Chamber, error) {
	doc, err := Read(path)
	if err != nil {
		return nil, err
	}
	return doc.Chamber, nil
}

// ReadMagnetron loads a magnetron from a ".smo" file or from the active
// magnetron of a ".sin" file.
func ReadMagnetron(path string) (*components.Magnetron, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ExtConfig:
		doc, err := Read(path)
		if err != nil {
			return nil, err
		}
		return doc.Magnetron, nil
	case ExtMagnetron:
		var mf magnetronFile
		if err := readStrict(path, &mf); err != nil {
			return nil, err
		}
		if mf.Magnetron == nil {
			return nil, fmt.Errorf("read magnetron %s: no magnetron section", path)
		}
		if err := mf.Magnetron.Validate(); err != nil {
			return nil, fmt.Errorf("read magnetron %s: %w", path, err)
		}
		return mf.Magnetron, nil
	default:
		return nil, fmt.Errorf("read magnetron %s: unsupported extension %q", path, ext)
	}
}

// ReadDummyObject loads a ".sdo" file.
func ReadDummyObject(path string) (components.DummyObject, error) {
	var of objectFile
	if err := readStrict(path, &of); err != nil {
		return components.DummyObject{}, err
	}
	if of.Object == nil {
		return components.DummyObject{}, fmt.Errorf("read object %s: no object section", path)
	}
	if err := of.Object.Validate(); err != nil {
		return components.DummyObject{}, fmt.Errorf("read object %s: %w", path, err)
	}
	return *of.Object, nil
}

// WriteMagnetron stores m as a ".smo" file.
func WriteMagnetron(path string, m *components.Magnetron) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("write magnetron %s: %w", path, err)
	}
	return writeFile(path, func(w io.Writer) error { return encodeYAML(w, magnetronFile{Magnetron: m}) })
}

// WriteDummyObject stores o as a ".sdo" file.
func WriteDummyObject(path string, o components.DummyObject) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("write object %s: %w", path, err)
	}
	return writeFile(path, func(w io.Writer) error { return encodeYAML(w, objectFile{Object: &o}) })
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func decodeStrict(r io.Reader, v any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty document")
		}
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

func readStrict(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := decodeStrict(f, v); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func writeFile(path string, encode func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
