package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/sputra/internal/result"
	"github.com/3cpo-dev/sputra/internal/sinfile"
	"github.com/3cpo-dev/sputra/internal/telemetry"
)

// BackendLocal is the registry name of the local invoker.
const BackendLocal = "local"

// LocalConfig locates the engine binary on this machine.
type LocalConfig struct {
	Binary      string   `yaml:"binary" env:"SIMTRA_BINARY"`
	Args        []string `yaml:"args" env:"SIMTRA_ARGS" envSeparator:" "`
	Concurrency int      `yaml:"concurrency" env:"SIMTRA_CONCURRENCY"`
	WorkDir     string   `yaml:"work_dir" env:"SIMTRA_WORKDIR"`
}

// LocalConfigFromEnv reads the engine location from the environment.
func LocalConfigFromEnv() (LocalConfig, error) {
	var cfg LocalConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse engine env: %w", err)
	}
	return cfg, nil
}

// Local runs engine processes on this machine, at most Concurrency at a time.
type Local struct {
	cfg     LocalConfig
	logger  zerolog.Logger
	metrics *telemetry.Collector
}

// NewLocal creates a local invoker. Zero Concurrency means one process per CPU.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.Binary == "" {
		cfg.Binary = "simtra"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	return &Local{cfg: cfg, logger: log.Logger, metrics: telemetry.GetGlobal()}
}

// NewLocalFromEnv creates a local invoker bound to the engine configured in
// the environment.
func NewLocalFromEnv() (*Local, error) {
	cfg, err := LocalConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewLocal(cfg), nil
}

// WithLogger sets the logger used for per-run events.
func (l *Local) WithLogger(logger zerolog.Logger) *Local {
	l.logger = logger
	return l
}

// WithMetrics sets the collector that records run durations.
func (l *Local) WithMetrics(c *telemetry.Collector) *Local {
	l.metrics = c
	return l
}

func (l *Local) Name() string { return BackendLocal }

// Config returns the effective configuration.
func (l *Local) Config() LocalConfig { return l.cfg }

func (l *Local) Run(ctx context.Context, paths []string, deleteInputs bool) ([]*result.Output, error) {
	outputs := make([]*result.Output, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			out, err := l.runOne(ctx, p)
			if err != nil {
				return err
			}
			outputs[i] = out
			if deleteInputs {
				if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
					l.logger.Warn().Err(err).Str("config", p).Msg("Remove consumed config file")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (l *Local) runOne(ctx context.Context, path string) (*result.Output, error) {
	outDir, err := sinfile.ReadOutputPath(path)
	if err != nil {
		return nil, &RunError{Config: path, Err: err}
	}
	// The engine may run in another working directory.
	if outDir, err = filepath.Abs(outDir); err != nil {
		return nil, &RunError{Config: path, Err: err}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &RunError{Config: path, Err: fmt.Errorf("mkdir output: %w", err)}
	}
	cfgPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &RunError{Config: path, Err: err}
	}

	cmd := exec.CommandContext(ctx, l.cfg.Binary, ExpandArgs(l.cfg.Args, cfgPath, outDir)...)
	cmd.Dir = l.cfg.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.logger.Debug().Str("config", path).Str("output", outDir).Msg("Starting engine")
	start := time.Now()
	err = cmd.Run()
	dur := time.Since(start)
	l.metrics.EngineRun(BackendLocal, dur, err)
	if err != nil {
		re := &RunError{Config: path, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			re.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			re.Err = ctxErr
		}
		return nil, re
	}
	l.logger.Debug().Str("config", path).Dur("dur", dur).Int("stdout_bytes", stdout.Len()).Msg("Engine finished")

	out, err := result.Parse(outDir)
	if err != nil {
		return nil, &RunError{Config: path, Err: err}
	}
	return out, nil
}
