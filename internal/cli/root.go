package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"fleshout/internal/loader"
	"fleshout/pkg/fleshout"
)

const (
	appName    = "fleshout"
	appVersion = "0.1.0"
)

type negBoolBinding struct {
	target *bool
	neg    *bool
}

func addBoolPair(flags *pflag.FlagSet, bindings *[]negBoolBinding, target *bool, name string, usage string) {
	neg := new(bool)
	flags.BoolVar(target, name, *target, usage)
	flags.BoolVar(neg, "no-"+name, false, "disable "+name)
	*bindings = append(*bindings, negBoolBinding{target: target, neg: neg})
}

// optionFlags binds the generation options of one command. Flags given on
// the command line win over values read from --config.
type optionFlags struct {
	opts    fleshout.Options
	seedSet bool
	config  string
	names   []string
	negs    []negBoolBinding
}

func newOptionFlags() *optionFlags {
	return &optionFlags{opts: fleshout.Defaults()}
}

func (o *optionFlags) register(flags *pflag.FlagSet) {
	before := map[string]bool{}
	flags.VisitAll(func(f *pflag.Flag) { before[f.Name] = true })

	opts := &o.opts
	flags.Uint64VarP(&opts.Seed, "seed", "s", 0, "seed for deterministic generation")
	flags.IntVar(&opts.PathLength, "path-length", opts.PathLength, "soft cap on the random walk before completion to an exit")
	flags.IntVar(&opts.ThreadsX, "x-threads", opts.ThreadsX, "local workgroup size in x")
	flags.IntVar(&opts.ThreadsY, "y-threads", opts.ThreadsY, "local workgroup size in y")
	flags.IntVar(&opts.ThreadsZ, "z-threads", opts.ThreadsZ, "local workgroup size in z")
	flags.IntVar(&opts.WorkgroupsX, "x-workgroups", opts.WorkgroupsX, "number of workgroups in x")
	flags.IntVar(&opts.WorkgroupsY, "y-workgroups", opts.WorkgroupsY, "number of workgroups in y")
	flags.IntVar(&opts.WorkgroupsZ, "z-workgroups", opts.WorkgroupsZ, "number of workgroups in z")
	addBoolPair(flags, &o.negs, &opts.Barriers, "barriers", "insert workgroup barriers")
	flags.IntVar(&opts.BarrierProb, "barrier-prob", opts.BarrierProb, "probability [0,100] that a block on the first path gets a barrier")
	flags.BoolVar(&opts.PhiInstrumentation, "phi-instrumentation", opts.PhiInstrumentation, "carry indices through OpPhi instead of local variables")
	flags.IntVar(&opts.MaxAttempts, "max-attempts", opts.MaxAttempts, "candidate paths tried when looking for compatible paths")
	flags.BoolVar(&opts.SinglePath, "single-path", opts.SinglePath, "make every invocation follow the same path")
	flags.BoolVar(&opts.Concise, "concise", opts.Concise, "emit minimal comments")

	flags.VisitAll(func(f *pflag.Flag) {
		if !before[f.Name] {
			o.names = append(o.names, f.Name)
		}
	})
	flags.StringVar(&o.config, "config", "", "YAML file with generation options")
}

// resolve applies --config and the --no-* flags. It must run after parsing.
func (o *optionFlags) resolve(flags *pflag.FlagSet) error {
	if o.config != "" {
		if err := o.overlay(flags); err != nil {
			return err
		}
	}
	if flags.Changed("seed") {
		o.seedSet = true
	}
	for _, b := range o.negs {
		if *b.neg {
			*b.target = false
		}
	}
	return nil
}

func (o *optionFlags) overlay(flags *pflag.FlagSet) error {
	data, err := os.ReadFile(o.config)
	if err != nil {
		return err
	}
	changed := map[string]string{}
	for _, name := range o.names {
		if f := flags.Lookup(name); f != nil && f.Changed {
			changed[name] = f.Value.String()
		}
	}

	opts := fleshout.Defaults()
	if err := opts.Overlay(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%s: %w", o.config, err)
	}
	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("%s: %w", o.config, err)
	}
	if _, ok := keys["seed"]; ok {
		o.seedSet = true
	}

	o.opts = opts
	for name, v := range changed {
		if err := flags.Set(name, v); err != nil {
			return fmt.Errorf("re-applying --%s: %w", name, err)
		}
	}
	slog.Debug("loaded options", "config", o.config, "overridden", len(changed))
	return nil
}

// options returns the resolved options, with a time-based seed when none was
// given.
func (o *optionFlags) options() fleshout.Options {
	opts := o.opts
	if !o.seedSet {
		opts.Seed = uint64(time.Now().UnixNano())
	}
	return opts
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func NewRootCmd() *cobra.Command {
	of := newOptionFlags()
	outputPath := ""
	showVersion := false
	skeletonOnly := false
	selfCheck := false
	verbose := false

	cmd := &cobra.Command{
		Use:           appName + " [flags] CFG_FILE",
		Short:         "Generate SPIR-V fleshing tests from structured control-flow graphs",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), verbose)
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return of.resolve(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, appVersion)
				return err
			}
			if len(args) != 1 {
				return fmt.Errorf("expected one CFG file, got %d arguments", len(args))
			}

			rel, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			opts := of.options()
			program, err := fleshout.GenerateFromRelations(rel, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			slog.Debug("generated",
				"file", args[0],
				"seed", opts.Seed,
				"actors", len(program.Paths.Actors),
				"distinct", len(program.Paths.Distinct),
				"attempts", program.Paths.Attempts,
				"barriers", len(program.Paths.Barriers))
			if selfCheck {
				if err := fleshout.Verify(program); err != nil {
					return fmt.Errorf("self-check: %w", err)
				}
			}

			text := program.Amber()
			if skeletonOnly {
				text = program.SkeletonText()
			}
			if outputPath == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}
			return os.WriteFile(outputPath, []byte(text), 0o644)
		},
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log debug details to stderr")
	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print version")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the generated test to file")
	cmd.Flags().BoolVar(&skeletonOnly, "skeleton", false, "write the uninstrumented shader instead of the Amber test")
	cmd.Flags().BoolVar(&selfCheck, "self-check", false, "replay the shader and check the expectations before writing")
	of.register(cmd.Flags())

	_ = cmd.MarkFlagFilename("output", "amber")
	_ = cmd.MarkFlagFilename("config", "yaml", "yml")

	cmd.AddCommand(newBatchCmd())
	return cmd
}
