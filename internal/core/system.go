// Package core orchestrates simulations of multi-magnetron sputter systems.
//
// A SputterSystem expands its composition into one engine configuration per
// selected magnetron and repeated run. In each configuration exactly one
// magnetron is the particle source; every other magnetron is written as
// passive geometry next to the dummy objects. All configurations of a call
// are handed to the engine invoker in one batch and the repeated runs of
// each magnetron are combined into one output.
package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/sputra/internal/components"
	"github.com/3cpo-dev/sputra/internal/engine"
	"github.com/3cpo-dev/sputra/internal/result"
	"github.com/3cpo-dev/sputra/internal/sinfile"
	"github.com/3cpo-dev/sputra/internal/telemetry"
)

// stampLayout is the timestamp suffix of generated file names.
const stampLayout = "2006-01-02_15-04-05"

// MagnetronEntry binds a magnetron to its key.
type MagnetronEntry struct {
	Key       string
	Magnetron *components.Magnetron
}

// FileEntry binds a magnetron file (".smo" or ".sin") to its key.
type FileEntry struct {
	Key  string
	Path string
}

// SputterSystem is a chamber with keyed magnetrons and passive dummy
// objects. The system owns the components it was built from: SetIonEnergy
// and Simulate modify them in place. It is not safe for concurrent use.
type SputterSystem struct {
	chamber    *components.Chamber
	keys       []string
	magnetrons map[string]*components.Magnetron
	dummies    []components.DummyObject
	outputPath string

	scratchDir string
	invoker    engine.Invoker
	writer     ConfigWriter
	recorder   Recorder
	rng        *rand.Rand
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *telemetry.Collector
	backend    string
}

// New builds a system from keyed magnetrons. The order of mags is kept and
// determines the order of engine runs.
func New(chamber *components.Chamber, mags []MagnetronEntry, dummies []components.DummyObject, outputPath string, opts ...Option) (*SputterSystem, error) {
	if chamber == nil {
		return nil, ValidationError{Field: "chamber", Message: "a chamber is required"}
	}
	if len(mags) == 0 {
		return nil, ValidationError{Field: "magnetrons", Message: "at least one magnetron is required"}
	}
	s := &SputterSystem{
		chamber:    chamber,
		keys:       make([]string, 0, len(mags)),
		magnetrons: make(map[string]*components.Magnetron, len(mags)),
		dummies:    append([]components.DummyObject(nil), dummies...),
		outputPath: filepath.Clean(outputPath),
		logger:     log.Logger,
	}
	for i, e := range mags {
		switch {
		case e.Key == "":
			return nil, ValidationError{Field: "magnetrons", Value: strconv.Itoa(i), Message: "magnetron key is empty"}
		case e.Magnetron == nil:
			return nil, ValidationError{Field: "magnetrons", Value: e.Key, Message: "magnetron is nil"}
		}
		if _, dup := s.magnetrons[e.Key]; dup {
			return nil, ValidationError{Field: "magnetrons", Value: e.Key, Message: "duplicate magnetron key"}
		}
		s.keys = append(s.keys, e.Key)
		s.magnetrons[e.Key] = e.Magnetron
	}
	// Every configuration holds all magnetrons and dummies, so one check here
	// covers every file Simulate and ToSin will write.
	if err := sinfile.CheckRecordedNames(s.passive("")); err != nil {
		return nil, ValidationError{Field: "objects", Message: err.Error()}
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.scratchDir == "" {
		s.scratchDir = filepath.Join(os.TempDir(), "sputra")
	}
	if s.writer == nil {
		s.writer = sinfile.Writer{}
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = telemetry.GetGlobal()
	}
	if s.invoker == nil {
		inv, err := engine.NewLocalFromEnv()
		if err != nil {
			return nil, fmt.Errorf("default engine: %w", err)
		}
		s.invoker = inv.WithLogger(s.logger).WithMetrics(s.metrics)
	}
	if s.backend == "" {
		s.backend = s.invoker.Name()
	}
	return s, nil
}

// NewSingle builds a one-magnetron system keyed by the magnetron's name.
func NewSingle(chamber *components.Chamber, mag *components.Magnetron, dummies []components.DummyObject, outputPath string, opts ...Option) (*SputterSystem, error) {
	if mag == nil {
		return nil, ValidationError{Field: "magnetrons", Message: "magnetron is nil"}
	}
	return New(chamber, []MagnetronEntry{{Key: mag.Name(), Magnetron: mag}}, dummies, outputPath, opts...)
}

// SingleFromFile loads a one-magnetron system from a ".sin" file.
func SingleFromFile(path string, opts ...Option) (*SputterSystem, error) {
	doc, err := sinfile.Read(path)
	if err != nil {
		return nil, fmt.Errorf("load system: %w", err)
	}
	return NewSingle(doc.Chamber, doc.Magnetron, doc.Objects, doc.OutputPath, opts...)
}

// MultipleFromFiles loads a chamber, keyed magnetrons and dummy objects from
// separate component files.
func MultipleFromFiles(chamberPath string, mags []FileEntry, objectPaths []string, outputPath string, opts ...Option) (*SputterSystem, error) {
	ch, err := sinfile.ReadChamber(chamberPath)
	if err != nil {
		return nil, fmt.Errorf("load chamber: %w", err)
	}
	entries := make([]MagnetronEntry, 0, len(mags))
	for _, f := range mags {
		m, err := sinfile.ReadMagnetron(f.Path)
		if err != nil {
			return nil, fmt.Errorf("load magnetron %q: %w", f.Key, err)
		}
		entries = append(entries, MagnetronEntry{Key: f.Key, Magnetron: m})
	}
	dummies := make([]components.DummyObject, 0, len(objectPaths))
	for _, p := range objectPaths {
		o, err := sinfile.ReadDummyObject(p)
		if err != nil {
			return nil, fmt.Errorf("load object: %w", err)
		}
		dummies = append(dummies, o)
	}
	return New(ch, entries, dummies, outputPath, opts...)
}

func (s *SputterSystem) Chamber() *components.Chamber { return s.chamber }

// Keys returns the magnetron keys in insertion order.
func (s *SputterSystem) Keys() []string { return append([]string(nil), s.keys...) }

func (s *SputterSystem) Magnetron(key string) (*components.Magnetron, bool) {
	m, ok := s.magnetrons[key]
	return m, ok
}

func (s *SputterSystem) Dummies() []components.DummyObject {
	return append([]components.DummyObject(nil), s.dummies...)
}

func (s *SputterSystem) OutputPath() string { return s.outputPath }

func (s *SputterSystem) ScratchDir() string { return s.scratchDir }

// SetIonEnergy sets the maximum ion energy (eV) of the only magnetron.
func (s *SputterSystem) SetIonEnergy(eV float64) error {
	if len(s.keys) != 1 {
		return ValidationError{
			Field:   "ion_energy",
			Value:   strconv.FormatFloat(eV, 'g', -1, 64),
			Message: fmt.Sprintf("%d magnetrons are held, name them with SetIonEnergies", len(s.keys)),
		}
	}
	s.magnetrons[s.keys[0]].MaxIonEnergy = eV
	return nil
}

// SetIonEnergies sets the maximum ion energy (eV) of the named magnetrons.
// Nothing changes if any key is unknown.
func (s *SputterSystem) SetIonEnergies(energies map[string]float64) error {
	for key := range energies {
		if _, ok := s.magnetrons[key]; !ok {
			return &SelectionError{Key: key}
		}
	}
	for key, eV := range energies {
		s.magnetrons[key].MaxIonEnergy = eV
	}
	return nil
}

// passive returns the dummy objects followed by the geometry of every
// magnetron other than key, in insertion order.
func (s *SputterSystem) passive(key string) []components.DummyObject {
	out := make([]components.DummyObject, 0, len(s.dummies)+len(s.keys)-1)
	out = append(out, s.dummies...)
	for _, k := range s.keys {
		if k != key {
			out = append(out, s.magnetrons[k].Geometry())
		}
	}
	return out
}

// selection validates a Simulate request without touching the filesystem.
func (s *SputterSystem) selection(keys []string, runs int) ([]string, error) {
	if runs < 1 {
		return nil, ValidationError{Field: "runs", Value: strconv.Itoa(runs), Message: "at least one run is required"}
	}
	if len(keys) == 0 {
		return s.Keys(), nil
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := s.magnetrons[k]; !ok {
			return nil, &SelectionError{Key: k}
		}
		if seen[k] {
			return nil, ValidationError{Field: "magnetrons", Value: k, Message: "magnetron selected twice"}
		}
		seen[k] = true
	}
	return append([]string(nil), keys...), nil
}

// plan writes one configuration per selected key and run. The returned runs
// are contiguous per key. On failure the files written so far are removed.
func (s *SputterSystem) plan(sel []string, runs int) ([]PlannedRun, error) {
	stamp := s.now().Format(stampLayout)
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	planned := make([]PlannedRun, 0, len(sel)*runs)
	for _, key := range sel {
		active := s.magnetrons[key]
		passive := s.passive(key)
		for i := 1; i <= runs; i++ {
			if runs > 1 {
				s.chamber.AssignNewSeed(s.rng)
			}
			name := fmt.Sprintf("mag_%s_sim_%d_%s", key, i, stamp)
			run := PlannedRun{
				Key:       key,
				Index:     i,
				Config:    filepath.Join(s.scratchDir, name+sinfile.ExtConfig),
				OutputDir: filepath.Join(s.outputPath, name),
				Seed:      s.chamber.SeedNumber,
			}
			if err := s.writer.WriteConfig(run.OutputDir, s.chamber, active, passive, run.Config); err != nil {
				s.discard(planned)
				os.Remove(run.Config)
				return nil, fmt.Errorf("write config %s: %w", filepath.Base(run.Config), err)
			}
			s.metrics.ConfigWritten()
			s.logger.Debug().Str("magnetron", key).Int("run", i).Int("seed", run.Seed).Str("config", run.Config).Msg("Wrote configuration")
			planned = append(planned, run)
		}
	}
	return planned, nil
}

func (s *SputterSystem) discard(planned []PlannedRun) {
	for _, r := range planned {
		if err := os.Remove(r.Config); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("config", r.Config).Msg("Remove scratch configuration")
		}
	}
}

// Simulate runs the engine runs times for each selected magnetron and
// returns the combined output per key. An empty selection means every
// magnetron. Nothing is written when the request is invalid.
func (s *SputterSystem) Simulate(ctx context.Context, keys []string, runs int) (*Results, error) {
	sel, err := s.selection(keys, runs)
	if err != nil {
		return nil, err
	}
	planned, err := s.plan(sel, runs)
	if err != nil {
		s.metrics.Batch(err)
		return nil, err
	}

	batchID := s.beginBatch(ctx, sel, runs, planned)
	logger := s.logger.With().Str("batch", batchID).Logger()
	logger.Info().Strs("magnetrons", sel).Int("runs", runs).Int("files", len(planned)).Str("backend", s.backend).Msg("Starting simulation batch")

	start := time.Now()
	res, err := s.execute(ctx, sel, runs, planned)
	s.finishBatch(ctx, batchID, err)
	s.metrics.Batch(err)
	if err != nil {
		logger.Error().Err(err).Dur("dur", time.Since(start)).Msg("Simulation batch failed")
		return nil, err
	}
	logger.Info().Dur("dur", time.Since(start)).Msg("Simulation batch finished")
	return res, nil
}

func (s *SputterSystem) execute(ctx context.Context, sel []string, runs int, planned []PlannedRun) (*Results, error) {
	paths := make([]string, len(planned))
	for i, r := range planned {
		paths[i] = r.Config
	}
	outputs, err := s.invoker.Run(ctx, paths, true)
	if err != nil {
		return nil, fmt.Errorf("engine run: %w", err)
	}
	if len(outputs) != len(paths) {
		return nil, &ResultCountError{Want: len(paths), Got: len(outputs)}
	}
	for i, o := range outputs {
		if o == nil {
			return nil, fmt.Errorf("engine run: no output for %s", filepath.Base(paths[i]))
		}
	}

	res := newResults(len(sel))
	for i, chunk := range Chunk(outputs, runs) {
		combined, err := result.Combine(chunk...)
		if err != nil {
			return nil, fmt.Errorf("combine results of %q: %w", sel[i], err)
		}
		res.put(sel[i], combined)
	}
	return res, nil
}

// SimulateSingle runs the only magnetron of the system and returns its
// combined output.
func (s *SputterSystem) SimulateSingle(ctx context.Context, runs int) (*result.Output, error) {
	if len(s.keys) != 1 {
		return nil, ValidationError{
			Field:   "magnetrons",
			Value:   strconv.Itoa(len(s.keys)),
			Message: "SimulateSingle needs exactly one magnetron, use Simulate",
		}
	}
	res, err := s.Simulate(ctx, nil, runs)
	if err != nil {
		return nil, err
	}
	out, _ := res.Only()
	return out, nil
}

// ToSin exports the configuration of one magnetron to path. With a single
// magnetron key is ignored. Results of a run of the exported file go to the
// directory of path.
func (s *SputterSystem) ToSin(path, key string) error {
	if len(s.keys) == 1 {
		key = s.keys[0]
	} else if key == "" {
		return ErrAmbiguousExport
	}
	mag, ok := s.magnetrons[key]
	if !ok {
		return &SelectionError{Key: key}
	}
	if err := s.writer.WriteConfig(filepath.Dir(path), s.chamber, mag, s.passive(key), path); err != nil {
		return fmt.Errorf("export %q: %w", key, err)
	}
	return nil
}

func (s *SputterSystem) beginBatch(ctx context.Context, sel []string, runs int, planned []PlannedRun) string {
	if s.recorder == nil {
		return ""
	}
	id, err := s.recorder.BeginBatch(ctx, Batch{
		Backend:    s.backend,
		Keys:       sel,
		Runs:       runs,
		OutputPath: s.outputPath,
		StartedAt:  s.now(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Record batch")
		return ""
	}
	for _, r := range planned {
		if err := s.recorder.RecordRun(ctx, id, r); err != nil {
			s.logger.Warn().Err(err).Str("batch", id).Str("config", r.Config).Msg("Record run")
		}
	}
	return id
}

func (s *SputterSystem) finishBatch(ctx context.Context, id string, runErr error) {
	if s.recorder == nil || id == "" {
		return
	}
	// The ledger is updated even when ctx was cancelled.
	if err := s.recorder.FinishBatch(context.WithoutCancel(ctx), id, runErr); err != nil {
		s.logger.Warn().Err(err).Str("batch", id).Msg("Finish batch record")
	}
}
