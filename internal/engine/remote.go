package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	"github.com/3cpo-dev/sputra/internal/result"
	"github.com/3cpo-dev/sputra/internal/sinfile"
	gssh "github.com/3cpo-dev/sputra/internal/ssh"
	"github.com/3cpo-dev/sputra/internal/telemetry"
)

// BackendRemote is the registry name of the SSH invoker.
const BackendRemote = "remote"

// RemoteConfig describes an engine host reachable over SSH.
type RemoteConfig struct {
	Host           string   `yaml:"host" env:"SPUTRA_REMOTE_HOST"`
	Port           int      `yaml:"port" env:"SPUTRA_REMOTE_PORT"`
	User           string   `yaml:"user" env:"SPUTRA_REMOTE_USER"`
	KeyPath        string   `yaml:"key_path" env:"SPUTRA_REMOTE_KEY"`
	KnownHosts     string   `yaml:"known_hosts" env:"SPUTRA_REMOTE_KNOWN_HOSTS"`
	WorkDir        string   `yaml:"work_dir" env:"SPUTRA_REMOTE_WORKDIR"`
	Binary         string   `yaml:"binary" env:"SPUTRA_REMOTE_BINARY"`
	Args           []string `yaml:"args"`
	Retries        int      `yaml:"retries"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Enabled reports whether a host is configured.
func (c RemoteConfig) Enabled() bool { return c.Host != "" }

func (c RemoteConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Remote runs a batch sequentially on one SSH host. Each configuration is
// uploaded with its output path rewritten below WorkDir, the remote output is
// pulled back into the local output directory and parsed there.
type Remote struct {
	cfg     RemoteConfig
	client  *gssh.Client
	logger  zerolog.Logger
	metrics *telemetry.Collector
}

// NewRemote loads the SSH credentials named in cfg.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if !cfg.Enabled() {
		return nil, errors.New("remote engine: host is required")
	}
	signer, err := gssh.LoadPrivateKeySigner(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("remote engine: %w", err)
	}
	kh, err := gssh.LoadKnownHostsCallback(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("remote engine: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return newRemote(cfg, &gssh.Client{
		Addr:       cfg.addr(),
		User:       cfg.User,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    timeout,
		Retries:    cfg.Retries,
		Backoff:    500 * time.Millisecond,
	}), nil
}

func newRemote(cfg RemoteConfig, client *gssh.Client) *Remote {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/tmp/sputra"
	}
	if cfg.Binary == "" {
		cfg.Binary = "simtra"
	}
	return &Remote{cfg: cfg, client: client, logger: log.Logger, metrics: telemetry.GetGlobal()}
}

// WithLogger sets the logger used for per-run events.
func (r *Remote) WithLogger(logger zerolog.Logger) *Remote {
	r.logger = logger
	return r
}

// WithMetrics sets the collector that records run durations.
func (r *Remote) WithMetrics(c *telemetry.Collector) *Remote {
	r.metrics = c
	return r
}

func (r *Remote) Name() string { return BackendRemote }

func (r *Remote) Run(ctx context.Context, paths []string, deleteInputs bool) ([]*result.Output, error) {
	cli, err := gssh.Dial(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("remote engine: %w", err)
	}
	defer cli.Close()
	sess, err := gssh.OpenSFTP(cli)
	if err != nil {
		return nil, fmt.Errorf("remote engine: %w", err)
	}
	defer sess.Close()

	outputs := make([]*result.Output, len(paths))
	for i, p := range paths {
		out, err := r.runOne(ctx, cli, sess, p)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
		if deleteInputs {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn().Err(err).Str("config", p).Msg("Remove consumed config file")
			}
		}
	}
	return outputs, nil
}

// remoteLayout maps a local configuration file onto the remote work directory.
type remoteLayout struct {
	runDir string
	config string
	output string
}

func (r *Remote) layout(localConfig string) remoteLayout {
	base := strings.TrimSuffix(filepath.Base(localConfig), filepath.Ext(localConfig))
	runDir := path.Join(r.cfg.WorkDir, base)
	return remoteLayout{
		runDir: runDir,
		config: path.Join(runDir, base+sinfile.ExtConfig),
		output: path.Join(runDir, "output"),
	}
}

func (r *Remote) command(l remoteLayout) string {
	words := append([]string{r.cfg.Binary}, ExpandArgs(r.cfg.Args, l.config, l.output)...)
	return gssh.JoinCommand(words...)
}

func (r *Remote) runOne(ctx context.Context, cli *xssh.Client, sess *gssh.Session, p string) (*result.Output, error) {
	doc, err := sinfile.Read(p)
	if err != nil {
		return nil, &RunError{Config: p, Err: err}
	}
	localOut := doc.OutputPath
	l := r.layout(p)
	doc.OutputPath = l.output

	var buf bytes.Buffer
	if err := sinfile.Encode(&buf, doc); err != nil {
		return nil, &RunError{Config: p, Err: err}
	}
	if err := sess.WriteFile(l.config, buf.Bytes()); err != nil {
		return nil, &RunError{Config: p, Err: err}
	}
	defer func() {
		if err := sess.RemoveAll(l.runDir); err != nil {
			r.logger.Warn().Err(err).Str("dir", l.runDir).Msg("Remove remote run directory")
		}
	}()
	if err := sess.MkdirAll(l.output); err != nil {
		return nil, &RunError{Config: p, Err: err}
	}

	r.logger.Debug().Str("config", p).Str("host", r.cfg.Host).Msg("Starting remote engine")
	start := time.Now()
	_, stderr, err := gssh.Exec(ctx, cli, r.command(l))
	dur := time.Since(start)
	r.metrics.EngineRun(BackendRemote, dur, err)
	if err != nil {
		re := &RunError{Config: p, Stderr: stderr, Err: err}
		var exitErr *xssh.ExitError
		if errors.As(err, &exitErr) {
			re.ExitCode = exitErr.ExitStatus()
		}
		return nil, re
	}

	n, err := sess.PullDir(l.output, localOut)
	if err != nil {
		return nil, &RunError{Config: p, Err: err}
	}
	r.logger.Debug().Str("config", p).Dur("dur", dur).Int("files", n).Msg("Remote engine finished")

	if err := os.MkdirAll(localOut, 0o755); err != nil {
		return nil, &RunError{Config: p, Err: err}
	}
	out, err := result.Parse(localOut)
	if err != nil {
		return nil, &RunError{Config: p, Err: err}
	}
	return out, nil
}

// String describes the target host.
func (r *Remote) String() string {
	return r.cfg.User + "@" + r.cfg.Host + ":" + strconv.Itoa(r.cfg.Port)
}
