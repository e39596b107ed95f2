package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/sputra/internal/core"
	"github.com/3cpo-dev/sputra/internal/engine"
	"github.com/3cpo-dev/sputra/internal/sinfile"
	gssh "github.com/3cpo-dev/sputra/internal/ssh"
	"github.com/3cpo-dev/sputra/internal/telemetry"
)

// Resolve the configuration
func loadConfig(cmd *cobra.Command) (core.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return core.LoadConfig(cfgPath)
}

// Resolve the registry
func resolveRegistry(cfg core.Config, metrics *telemetry.Collector) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	reg.Register(engine.NewLocal(cfg.Engine).WithMetrics(metrics))
	if cfg.Remote.Enabled() {
		rc := cfg.Remote
		if rc.KeyPath == "" {
			rc.KeyPath = filepath.Join(cfg.SSH.KeyDir, "id_ed25519")
		}
		if rc.KnownHosts == "" {
			rc.KnownHosts = cfg.SSH.KnownHosts
		}
		if len(rc.Args) == 0 {
			rc.Args = cfg.Engine.Args
		}
		remote, err := engine.NewRemote(rc)
		if err != nil {
			return nil, err
		}
		reg.Register(remote.WithMetrics(metrics))
	}
	return reg, nil
}

// Load the system named by --sin or --system
func loadSystem(cmd *cobra.Command, opts ...core.Option) (*core.SputterSystem, int, error) {
	sinPath, _ := cmd.Flags().GetString("sin")
	specPath, _ := cmd.Flags().GetString("system")
	output, _ := cmd.Flags().GetString("output")
	switch {
	case sinPath != "" && specPath != "":
		return nil, 0, errors.New("use either --sin or --system")
	case sinPath != "":
		if output == "" {
			sys, err := core.SingleFromFile(sinPath, opts...)
			return sys, 0, err
		}
		doc, err := sinfile.Read(sinPath)
		if err != nil {
			return nil, 0, err
		}
		sys, err := core.NewSingle(doc.Chamber, doc.Magnetron, doc.Objects, output, opts...)
		return sys, 0, err
	case specPath != "":
		spec, err := core.LoadSystemSpec(specPath)
		if err != nil {
			return nil, 0, err
		}
		if output != "" {
			spec.Output, _ = filepath.Abs(output)
		}
		sys, err := core.FromSystemSpec(spec, filepath.Dir(specPath), opts...)
		return sys, spec.Runs, err
	default:
		return nil, 0, errors.New("one of --sin or --system is required")
	}
}

func addSystemFlags(cmd *cobra.Command) {
	cmd.Flags().String("sin", "", "single-magnetron system from a .sin file")
	cmd.Flags().String("system", "", "multi-magnetron system description (YAML)")
	cmd.Flags().StringP("output", "o", "", "override the engine output directory")
}

// Parse key=eV pairs
// applyIonEnergies handles --ion-energy values. "key=eV" targets one
// magnetron; a bare "eV" is accepted when the system holds a single one.
func applyIonEnergies(sys *core.SputterSystem, raw []string) error {
	energies := make(map[string]float64, len(raw))
	for _, item := range raw {
		key, v, keyed := strings.Cut(item, "=")
		if !keyed {
			v = item
		}
		eV, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid --ion-energy %s: %w", item, err)
		}
		if !keyed {
			if err := sys.SetIonEnergy(eV); err != nil {
				return err
			}
			continue
		}
		energies[strings.TrimSpace(key)] = eV
	}
	if len(energies) == 0 {
		return nil
	}
	return sys.SetIonEnergies(energies)
}

// Run simulations
func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the engine for the selected magnetrons and combine repeated runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			keys, _ := cmd.Flags().GetStringSlice("magnetron")
			runs, _ := cmd.Flags().GetInt("runs")
			rawEnergies, _ := cmd.Flags().GetStringSlice("ion-energy")
			saveDir, _ := cmd.Flags().GetString("save")
			mean, _ := cmd.Flags().GetBool("mean")
			backend, _ := cmd.Flags().GetString("backend")
			noLedger, _ := cmd.Flags().GetBool("no-ledger")
			quiet, _ := cmd.Flags().GetBool("quiet")
			if backend == "" {
				backend = cfg.Backend
			}

			metrics := telemetry.InitGlobal(cfg.Telemetry.Enabled)
			reg, err := resolveRegistry(cfg, metrics)
			if err != nil {
				return err
			}
			inv, err := reg.Get(backend)
			if err != nil {
				return err
			}
			opts := []core.Option{
				core.WithInvoker(inv),
				core.WithScratchDir(cfg.ScratchDir),
				core.WithCollector(metrics),
				core.WithLogger(log.Logger),
			}
			if !noLedger && cfg.Store != "" {
				store, err := core.NewStore(cfg.Store)
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, core.WithRecorder(store))
			}

			sys, specRuns, err := loadSystem(cmd, opts...)
			if err != nil {
				return err
			}
			if runs == 0 {
				runs = specRuns
			}
			if runs == 0 {
				runs = 1
			}
			if err := applyIonEnergies(sys, rawEnergies); err != nil {
				return err
			}

			var sp *spinner.Spinner
			if !quiet && zerolog.GlobalLevel() > zerolog.DebugLevel {
				sp = spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				sp.Suffix = fmt.Sprintf(" simulating %d run(s) per magnetron on %s", runs, inv.Name())
				sp.Start()
			}
			start := time.Now()
			res, err := sys.Simulate(cmd.Context(), keys, runs)
			if sp != nil {
				sp.Stop()
			}
			if cfg.Telemetry.Textfile != "" {
				if werr := metrics.WriteTextfile(cfg.Telemetry.Textfile); werr != nil {
					log.Warn().Err(werr).Msg("Write metrics textfile")
				}
			}
			metrics.LogSummary()
			if err != nil {
				return err
			}

			printResults(cmd.OutOrStdout(), res, time.Since(start))
			if saveDir != "" {
				return saveResults(res, saveDir, mean)
			}
			return nil
		},
	}
	addSystemFlags(cmd)
	cmd.Flags().StringSliceP("magnetron", "m", nil, "magnetron keys to simulate (default all)")
	cmd.Flags().IntP("runs", "n", 0, "repeated runs per magnetron (default from system, else 1)")
	cmd.Flags().StringSlice("ion-energy", nil, "maximum ion energy, key=eV per magnetron or a bare eV for a single-magnetron system")
	cmd.Flags().String("save", "", "write the combined matrices to this directory, one subdirectory per key")
	cmd.Flags().Bool("mean", false, "save run averages instead of sums")
	cmd.Flags().String("backend", "", "engine backend: local or remote (default from config)")
	cmd.Flags().Bool("no-ledger", false, "do not record the batch in the run ledger")
	cmd.Flags().BoolP("quiet", "q", false, "no progress spinner")
	return cmd
}

func printResults(w io.Writer, res *core.Results, took time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tRUNS\tOBJECT\tGRID\tDEPOSITED")
	for _, key := range res.Keys() {
		out, _ := res.Get(key)
		for _, name := range out.Names() {
			d, _ := out.Object(name)
			fmt.Fprintf(tw, "%s\t%d\t%s\t%dx%d\t%s\n", key, out.Runs, name, d.Rows, d.Cols, humanize.Commaf(d.Total()))
		}
	}
	tw.Flush()
	fmt.Fprintf(w, "%d magnetron(s) done in %s\n", res.Len(), took.Round(time.Millisecond))
}

func saveResults(res *core.Results, dir string, mean bool) error {
	for _, key := range res.Keys() {
		out, _ := res.Get(key)
		if mean {
			out = out.Mean()
		}
		if err := out.WriteDir(filepath.Join(dir, key)); err != nil {
			return fmt.Errorf("save results of %q: %w", key, err)
		}
	}
	log.Info().Str("dir", dir).Int("magnetrons", res.Len()).Bool("mean", mean).Msg("Saved combined results")
	return nil
}

// Export one magnetron configuration
func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <path.sin>",
		Short: "Write the engine configuration of one magnetron, the others as passive geometry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("magnetron")
			// Export never runs the engine.
			sys, _, err := loadSystem(cmd, core.WithInvoker(engine.NewLocal(engine.LocalConfig{})))
			if err != nil {
				return err
			}
			if err := sys.ToSin(args[0], key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	addSystemFlags(cmd)
	cmd.Flags().StringP("magnetron", "m", "", "key of the active magnetron (required for several magnetrons)")
	return cmd
}

// Inspect the run ledger
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [batch-id]",
		Short: "List recorded simulation batches, or the runs of one batch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := core.NewStore(cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if len(args) == 1 {
				runs, err := store.ListRuns(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "KEY\tRUN\tSEED\tOUTPUT")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.Key, r.Index, r.Seed, r.OutputDir)
				}
				return nil
			}

			batches, err := store.ListBatches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "ID\tSTARTED\tBACKEND\tMAGNETRONS\tRUNS\tSTATUS")
			for _, b := range batches {
				keys := append([]string(nil), b.Keys...)
				sort.Strings(keys)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", b.ID, humanize.Time(b.StartedAt), b.Backend, strings.Join(keys, ","), b.Runs, b.Status)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of batches to list (0 for all)")
	return cmd
}

// Initialize configuration and environment
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "sputra initialization command. Run this the first time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			host, _ := cmd.Flags().GetString("known-host")
			hostKey, _ := cmd.Flags().GetString("host-key")
			if cfgPath == "" {
				cfgPath = core.DefaultConfigPath()
			}
			out := cmd.OutOrStdout()

			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				if err := core.SaveConfig(cfgPath, core.DefaultConfig()); err != nil {
					return err
				}
				fmt.Fprintf(out, "created default config at %s\n", cfgPath)
			} else {
				fmt.Fprintf(out, "config exists at %s\n", cfgPath)
			}
			cfg, err := core.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			keyPath := filepath.Join(cfg.SSH.KeyDir, "id_ed25519")
			if _, err := os.Stat(keyPath); errors.Is(err, os.ErrNotExist) {
				pub, err := gssh.GenerateEd25519Keypair(keyPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "generated SSH key %s\nauthorize it on the engine host:\n%s", keyPath, pub)
			}
			if err := gssh.EnsureKnownHostsFile(cfg.SSH.KnownHosts); err != nil {
				return err
			}
			if host != "" {
				if hostKey == "" {
					return errors.New("--known-host needs --host-key")
				}
				if err := gssh.AppendKnownHost(cfg.SSH.KnownHosts, host, hostKey); err != nil {
					return err
				}
				fmt.Fprintf(out, "trusted host key of %s\n", host)
			}
			if cfg.Store != "" {
				store, err := core.NewStore(cfg.Store)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Ping(cmd.Context()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("known-host", "", "engine host (host or [host]:port) to add to known_hosts")
	cmd.Flags().String("host-key", "", "public host key in authorized_keys format")
	return cmd
}

// Generate shell completion scripts
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion script",
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			default:
				return root.GenPowerShellCompletionWithDesc(w)
			}
		},
	}
}
