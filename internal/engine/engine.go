// Package engine runs the external deposition engine over batches of
// configuration files.
//
// An Invoker takes an ordered list of ".sin" files and returns one parsed
// result per file in the same order. How the processes are scheduled (in
// parallel on this machine, sequentially on a remote host) is up to the
// implementation; callers issue one Run per batch.
package engine

//go:generate mockgen -source=engine.go -destination=mock_engine/mock_invoker.go -package=mock_engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3cpo-dev/sputra/internal/result"
)

// Argument placeholders expanded for every run.
const (
	PlaceholderConfig = "{config}"
	PlaceholderOutput = "{output}"
)

// DefaultArgs passes the configuration file as the only argument.
var DefaultArgs = []string{PlaceholderConfig}

// Invoker executes the engine once per configuration file.
type Invoker interface {
	Name() string
	// Run returns len(paths) outputs, outputs[i] belonging to paths[i]. When
	// deleteInputs is set each configuration file is removed after its run
	// was consumed.
	Run(ctx context.Context, paths []string, deleteInputs bool) ([]*result.Output, error)
}

// RunError describes a failed engine process.
type RunError struct {
	Config   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("engine run %s", filepath.Base(e.Config))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" exited with code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLines(s, 5)
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// ExpandArgs substitutes the placeholders in an argument template.
func ExpandArgs(template []string, config, output string) []string {
	if len(template) == 0 {
		template = DefaultArgs
	}
	r := strings.NewReplacer(PlaceholderConfig, config, PlaceholderOutput, output)
	args := make([]string, len(template))
	for i, a := range template {
		args[i] = r.Replace(a)
	}
	return args
}

// Registry keeps the configured invokers by name.
type Registry struct {
	invokers map[string]Invoker
}

func NewRegistry() *Registry {
	return &Registry{invokers: map[string]Invoker{}}
}

func (r *Registry) Register(inv Invoker) {
	r.invokers[inv.Name()] = inv
}

func (r *Registry) Get(name string) (Invoker, error) {
	inv, ok := r.invokers[name]
	if !ok {
		return nil, fmt.Errorf("engine backend not registered: %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return inv, nil
}

// Names lists the registered backends in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.invokers))
	for n := range r.invokers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
