package core

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/3cpo-dev/sputra/internal/components"
	"github.com/3cpo-dev/sputra/internal/engine"
	"github.com/3cpo-dev/sputra/internal/telemetry"
)

// ConfigWriter serializes one engine configuration file.
type ConfigWriter interface {
	WriteConfig(outputDir string, ch *components.Chamber, active *components.Magnetron, passive []components.DummyObject, path string) error
}

// Option configures a SputterSystem.
type Option func(*SputterSystem)

// WithScratchDir sets the directory for generated configuration files.
func WithScratchDir(dir string) Option {
	return func(s *SputterSystem) { s.scratchDir = dir }
}

// WithInvoker sets the engine invoker. Without it the local engine
// configured in the environment is used.
func WithInvoker(inv engine.Invoker) Option {
	return func(s *SputterSystem) { s.invoker = inv }
}

func WithConfigWriter(w ConfigWriter) Option {
	return func(s *SputterSystem) { s.writer = w }
}

// WithRecorder stores every batch in a run ledger.
func WithRecorder(r Recorder) Option {
	return func(s *SputterSystem) { s.recorder = r }
}

// WithRand sets the source of fresh seed numbers.
func WithRand(rng *rand.Rand) Option {
	return func(s *SputterSystem) { s.rng = rng }
}

// WithClock sets the time source used in file names.
func WithClock(now func() time.Time) Option {
	return func(s *SputterSystem) { s.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *SputterSystem) { s.logger = logger }
}

func WithCollector(c *telemetry.Collector) Option {
	return func(s *SputterSystem) { s.metrics = c }
}

// WithBackend names the backend in the run ledger when the invoker is
// wrapped or mocked.
func WithBackend(name string) Option {
	return func(s *SputterSystem) { s.backend = name }
}
