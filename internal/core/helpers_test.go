package core

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/3cpo-dev/sputra/internal/components"
	"github.com/3cpo-dev/sputra/internal/result"
	"github.com/3cpo-dev/sputra/internal/sinfile"
	"github.com/3cpo-dev/sputra/internal/telemetry"
)

var testStamp = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func testChamber() *components.Chamber {
	return &components.Chamber{
		Name:        "lab",
		Shape:       components.ShapeCylinder,
		Size:        [3]float64{0.4, 0.4, 0.5},
		Temperature: 300,
		Pressure:    0.3,
		Gas:         "Ar",
		SeedNumber:  42,
	}
}

func testMagnetron(name, element string, x float64) *components.Magnetron {
	return &components.Magnetron{
		Object: components.DummyObject{
			Name:     name,
			Shape:    components.ShapeCircle,
			Position: [3]float64{x, 0, 0},
			Size:     [3]float64{0.025, 0, 0},
		},
		Element:      element,
		Particles:    10000,
		MaxIonEnergy: 300,
	}
}

func testSubstrate() components.DummyObject {
	return components.DummyObject{
		Name:             "substrate",
		Shape:            components.ShapeRectangle,
		Position:         [3]float64{0, 0, 0.2},
		Size:             [3]float64{0.1, 0.1, 0},
		SaveAveragedData: true,
		Grid:             [2]int{2, 2},
	}
}

// fakeInvoker reads every configuration it is given and answers with a
// 2x2 substrate matrix filled with the configuration's seed number.
type fakeInvoker struct {
	calls  [][]string
	docs   []*sinfile.Document
	err    error
	short  bool
	delete bool
}

func (f *fakeInvoker) Name() string { return "fake" }

func (f *fakeInvoker) Run(ctx context.Context, paths []string, deleteInputs bool) ([]*result.Output, error) {
	f.calls = append(f.calls, append([]string(nil), paths...))
	f.delete = deleteInputs
	if f.err != nil {
		return nil, f.err
	}
	var outs []*result.Output
	for _, p := range paths {
		doc, err := sinfile.Read(p)
		if err != nil {
			return nil, err
		}
		f.docs = append(f.docs, doc)
		outs = append(outs, seedOutput(doc.Chamber.SeedNumber))
	}
	if f.short {
		outs = outs[:len(outs)-1]
	}
	return outs, nil
}

func seedOutput(seed int) *result.Output {
	d := result.NewDeposition(2, 2)
	for i := range d.Counts {
		d.Counts[i] = float64(seed)
	}
	return &result.Output{Runs: 1, Objects: map[string]*result.Deposition{"substrate": d}}
}

// testOptions wires a system to inv with deterministic time and seeds.
func testOptions(t *testing.T, inv *fakeInvoker) []Option {
	t.Helper()
	return []Option{
		WithInvoker(inv),
		WithScratchDir(filepath.Join(t.TempDir(), "scratch")),
		WithClock(func() time.Time { return testStamp }),
		WithRand(rand.New(rand.NewSource(7))),
		WithLogger(zerolog.Nop()),
		WithCollector(telemetry.NewCollector(true)),
	}
}

// twoMagnetronSystem holds "A" (Ti) and "B" (Cu) plus one substrate.
func twoMagnetronSystem(t *testing.T, inv *fakeInvoker, extra ...Option) *SputterSystem {
	t.Helper()
	sys, err := New(testChamber(), []MagnetronEntry{
		{Key: "A", Magnetron: testMagnetron("target-A", "Ti", -0.1)},
		{Key: "B", Magnetron: testMagnetron("target-B", "Cu", 0.1)},
	}, []components.DummyObject{testSubstrate()}, filepath.Join(t.TempDir(), "results"), append(testOptions(t, inv), extra...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sys
}
