package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleshout/internal/loader"
	"fleshout/pkg/cfg"
	"fleshout/pkg/fleshout"
)

// batchConfig holds the batch-only flags.
type batchConfig struct {
	seeds      []uint
	repeats    int
	runnerSeed uint64
	jobs       int
	outDir     string
	selfCheck  bool
}

type batchStats struct {
	mu        sync.Mutex
	files     int
	generated int
	failed    int
	skipped   int
	bytes     uint64
}

func (s *batchStats) add(f func(*batchStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

func newBatchCmd() *cobra.Command {
	of := newOptionFlags()
	bc := &batchConfig{jobs: runtime.NumCPU()}

	cmd := &cobra.Command{
		Use:   "batch [flags] DIR",
		Short: "Generate tests for every CFG file in a directory over a set of seeds",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := of.resolve(cmd.Flags()); err != nil {
				return err
			}
			if len(bc.seeds) == 0 && of.seedSet {
				bc.seeds = []uint{uint(of.opts.Seed)}
			}
			if !cmd.Flags().Changed("runner-seed") {
				bc.runnerSeed = uint64(time.Now().UnixNano())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := runBatch(cmd.Context(), cmd.ErrOrStderr(), args[0], bc, of.opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s tests written (%s) from %s files, %s failed, %s skipped\n",
				humanize.Comma(int64(stats.generated)), humanize.Bytes(stats.bytes),
				humanize.Comma(int64(stats.files)), humanize.Comma(int64(stats.failed)), humanize.Comma(int64(stats.skipped)))
			if err != nil {
				return err
			}
			if stats.generated == 0 {
				return errors.New("no test was generated")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.UintSliceVar(&bc.seeds, "seeds", nil, "comma-separated seeds to generate with")
	flags.IntVar(&bc.repeats, "repeats", 1, "number of random seeds per file when --seeds is not given")
	flags.Uint64Var(&bc.runnerSeed, "runner-seed", 0, "seed of the random seed sequence (time-based when unset)")
	flags.IntVarP(&bc.jobs, "jobs", "j", bc.jobs, "files processed in parallel")
	flags.StringVar(&bc.outDir, "out-dir", "", "directory for the generated tests (next to each input when empty)")
	flags.BoolVar(&bc.selfCheck, "self-check", false, "replay every shader and check the expectations before writing")
	of.register(flags)
	return cmd
}

// batchSeeds returns the explicit seeds, or repeats seeds drawn from the
// runner seed.
func batchSeeds(bc *batchConfig) []uint64 {
	if len(bc.seeds) > 0 {
		out := make([]uint64, len(bc.seeds))
		for i, s := range bc.seeds {
			out[i] = uint64(s)
		}
		return out
	}
	r := rand.New(rand.NewPCG(bc.runnerSeed, bc.runnerSeed^0x9e3779b97f4a7c15))
	out := make([]uint64, bc.repeats)
	for i := range out {
		out[i] = r.Uint64() >> 16
	}
	return out
}

// fatalForGraph reports whether err rules out every seed for the graph.
func fatalForGraph(err error) bool {
	var none *cfg.NoTerminalNodesError
	var unreachable *cfg.AllTerminalNodesUnreachableError
	return errors.As(err, &none) || errors.As(err, &unreachable)
}

func newProgress(w io.Writer, n int) *progressbar.ProgressBar {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return progressbar.NewOptions(n,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("fleshing"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	return progressbar.DefaultSilent(int64(n), "fleshing")
}

func runBatch(ctx context.Context, progress io.Writer, dir string, bc *batchConfig, opts fleshout.Options) (*batchStats, error) {
	if bc.jobs < 1 {
		return nil, fmt.Errorf("jobs must be at least 1")
	}
	if len(bc.seeds) == 0 && bc.repeats < 1 {
		return nil, fmt.Errorf("repeats must be at least 1")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	files, err := loader.Files(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CFG files in %s", dir)
	}
	if bc.outDir != "" {
		if err := os.MkdirAll(bc.outDir, 0o755); err != nil {
			return nil, err
		}
	}

	seeds := batchSeeds(bc)
	slog.Debug("batch", "dir", dir, "files", len(files), "seeds", len(seeds), "jobs", bc.jobs)

	start := time.Now()
	bar := newProgress(progress, len(files)*len(seeds))
	defer bar.Close()

	stats := &batchStats{files: len(files)}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bc.jobs)
	for _, file := range files {
		g.Go(func() error {
			return fleshFile(ctx, file, seeds, bc, opts, stats, bar)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("batch finished",
		"generated", humanize.Comma(int64(stats.generated)),
		"failed", humanize.Comma(int64(stats.failed)),
		"skipped", humanize.Comma(int64(stats.skipped)),
		"written", humanize.Bytes(stats.bytes),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

// fleshFile generates one test per seed for file. Failures are logged and
// counted; only cancellation and write errors abort the batch.
func fleshFile(ctx context.Context, file string, seeds []uint64, bc *batchConfig, opts fleshout.Options, stats *batchStats, bar *progressbar.ProgressBar) error {
	skip := func(n int) {
		stats.add(func(s *batchStats) { s.skipped += n })
		_ = bar.Add(n)
	}

	rel, err := loader.Load(file)
	if err != nil {
		slog.Warn("cannot load CFG", "file", file, "err", err)
		skip(len(seeds))
		return nil
	}
	graph, err := cfg.NewGraph(rel)
	if err != nil {
		slog.Warn("invalid CFG", "file", file, "err", err)
		skip(len(seeds))
		return nil
	}

	dir := bc.outDir
	if dir == "" {
		dir = filepath.Dir(file)
	}
	name := loader.Name(file)
	for i, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		o := opts
		o.Seed = seed
		program, err := fleshout.Generate(graph, o)
		if err == nil && bc.selfCheck {
			err = fleshout.Verify(program)
		}
		if err != nil {
			slog.Warn("generation failed", "file", file, "seed", seed, "err", err)
			stats.add(func(s *batchStats) { s.failed++ })
			_ = bar.Add(1)
			if fatalForGraph(err) {
				skip(len(seeds) - i - 1)
				return nil
			}
			continue
		}

		text := program.Amber()
		out := filepath.Join(dir, fmt.Sprintf("%s_%d.amber", name, seed))
		if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
			return err
		}
		slog.Debug("wrote test", "file", out, "seed", seed, "distinct", len(program.Paths.Distinct), "size", humanize.Bytes(uint64(len(text))))
		stats.add(func(s *batchStats) {
			s.generated++
			s.bytes += uint64(len(text))
		})
		_ = bar.Add(1)
	}
	return nil
}
