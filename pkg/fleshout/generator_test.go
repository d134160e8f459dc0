package fleshout

import (
	"errors"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleshout/pkg/amber"
	"fleshout/pkg/cfg"
)

func unifiedDiff(a, b string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "first",
		ToFile:   "second",
		Context:  3,
	})
	return diff
}

func TestGenerateIsDeterministic(t *testing.T) {
	for _, phi := range []bool{false, true} {
		opts := Defaults()
		opts.Seed = 1234
		opts.PathLength = 40
		opts.ThreadsX = 4
		opts.WorkgroupsX = 2
		opts.PhiInstrumentation = phi

		first, err := GenerateFromRelations(nestedLoopRelations(), opts)
		require.NoError(t, err)
		second, err := GenerateFromRelations(nestedLoopRelations(), opts)
		require.NoError(t, err)
		if a, b := first.Amber(), second.Amber(); a != b {
			t.Fatalf("phi=%v: output differs between runs:\n%s", phi, unifiedDiff(a, b))
		}

		opts.Seed++
		third, err := GenerateFromRelations(nestedLoopRelations(), opts)
		require.NoError(t, err)
		assert.NotEqual(t, first.Amber(), third.Amber())
	}
}

func TestSkeleton(t *testing.T) {
	g := mustGraph(t, loopRelations())
	want := strings.Join([]string{
		`               OpCapability Shader`,
		`               OpMemoryModel Logical GLSL450`,
		`               OpEntryPoint GLCompute %7 "main"`,
		`               OpExecutionMode %7 LocalSize 1 1 1`,
		`          %1 = OpTypeVoid`,
		`          %2 = OpTypeFunction %1`,
		`          %3 = OpTypeBool`,
		`          %4 = OpTypeInt 32 0`,
		`          %5 = OpConstantTrue %3`,
		`          %6 = OpConstant %4 0`,
		``,
		`          %7 = OpFunction %1 None %2`,
		``,
		`          %8 = OpLabel ; E`,
		`               OpBranch %9`,
		`          %9 = OpLabel ; L`,
		`               OpLoopMerge %10 %11 None`,
		`               OpBranchConditional %5 %12 %10`,
		`         %12 = OpLabel ; Body`,
		`               OpBranch %11`,
		`         %10 = OpLabel ; M`,
		`               OpReturn`,
		`         %11 = OpLabel ; C`,
		`               OpBranch %9`,
		`               OpFunctionEnd`,
	}, "\n") + "\n"

	got := skeleton(g).String() + "\n"
	if got != want {
		t.Fatalf("skeleton mismatch:\n%s", unifiedDiff(want, got))
	}
	require.NoError(t, skeleton(g).Validate())
}

func TestGenerateOutputsAreWellFormed(t *testing.T) {
	for name, rel := range map[string]cfg.Relations{
		"loop":   loopRelations(),
		"switch": switchRelations(),
		"nested": nestedLoopRelations(),
		"trap":   trapRelations(),
	} {
		for _, phi := range []bool{false, true} {
			opts := Defaults()
			opts.Seed = 99
			opts.PathLength = 25
			opts.ThreadsX = 3
			opts.WorkgroupsY = 2
			opts.BarrierProb = 60
			opts.PhiInstrumentation = phi

			prog, err := GenerateFromRelations(rel, opts)
			require.NoError(t, err, name)
			require.NoError(t, prog.Module.Validate(), name)
			require.NoError(t, prog.Script.Validate(), name)
			require.Len(t, prog.Paths.Actors, 6)

			amber := prog.Amber()
			assert.True(t, strings.HasPrefix(amber, "#!amber\n"), name)
			assert.Contains(t, amber, "RUN pipeline 1 2 1")
			assert.Contains(t, amber, "LocalSize 3 1 1")

			out := prog.Script.Expects[len(prog.Script.Expects)-2]
			require.Equal(t, outputBuffer, out.Buffer)
			first := prog.Paths.Path(0).IDs(prog.Graph)
			assert.Equal(t, append(first, 0), out.Values[:len(first)+1], name)
		}
	}
}

func TestGenerateConcise(t *testing.T) {
	opts := Defaults()
	opts.Seed = 5
	opts.Concise = true
	prog, err := GenerateFromRelations(switchRelations(), opts)
	require.NoError(t, err)
	assert.NotContains(t, prog.Module.String(), "; Generated")
	assert.NotContains(t, prog.Module.String(), "; Pointer type")

	opts.Concise = false
	prog, err = GenerateFromRelations(switchRelations(), opts)
	require.NoError(t, err)
	assert.Contains(t, prog.Module.String(), "; Generated with the seed 5")
}

func TestGenerateSinglePath(t *testing.T) {
	opts := Defaults()
	opts.Seed = 11
	opts.ThreadsX = 8
	opts.SinglePath = true
	prog, err := GenerateFromRelations(nestedLoopRelations(), opts)
	require.NoError(t, err)
	assert.Len(t, prog.Paths.Distinct, 1)
	assert.Equal(t, 0, prog.Paths.Attempts)
	assert.Equal(t, make([]int, 8), prog.Paths.Actors)
}

func TestGenerateWithoutBarriers(t *testing.T) {
	opts := Defaults()
	opts.Seed = 17
	opts.ThreadsX = 4
	opts.Barriers = false
	prog, err := GenerateFromRelations(nestedLoopRelations(), opts)
	require.NoError(t, err)
	assert.Empty(t, prog.Paths.Barriers)
	assert.NotContains(t, prog.Module.String(), "OpControlBarrier")
}

func TestGenerateErrors(t *testing.T) {
	t.Run("no_terminal_nodes", func(t *testing.T) {
		_, err := GenerateFromRelations(cfg.Relations{
			Entry:   "E",
			Regular: []string{"E", "F"},
			Jump:    map[string][]string{"E": {"F"}, "F": {"E"}},
		}, Defaults())
		var none *cfg.NoTerminalNodesError
		assert.True(t, errors.As(err, &none), "got %v", err)
	})

	t.Run("doomed_entry", func(t *testing.T) {
		_, err := GenerateFromRelations(cfg.Relations{
			Entry:   "E",
			Regular: []string{"E", "D", "D2", "X"},
			Jump:    map[string][]string{"E": {"D"}, "D": {"D2"}, "D2": {"D"}},
		}, Defaults())
		var unreachable *cfg.AllTerminalNodesUnreachableError
		require.True(t, errors.As(err, &unreachable), "got %v", err)
		assert.Equal(t, "E", unreachable.Block)
		assert.Equal(t, []string{"X"}, unreachable.Exits)
	})

	t.Run("entry_is_branch_target", func(t *testing.T) {
		_, err := GenerateFromRelations(cfg.Relations{
			Entry:       "E",
			Regular:     []string{"B", "C", "M"},
			LoopHeaders: []string{"E"},
			Jump:        map[string][]string{"E": {"B", "M"}, "B": {"C"}, "C": {"E"}},
			Merge:       map[string]string{"E": "M"},
			Continue:    map[string]string{"E": "C"},
		}, Defaults())
		var inv *cfg.InvariantError
		require.True(t, errors.As(err, &inv), "got %v", err)
		assert.Equal(t, "E", inv.Block)
		assert.Contains(t, inv.Rule, "entry block is the target of a branch")
	})

	t.Run("invalid_options", func(t *testing.T) {
		opts := Defaults()
		opts.PathLength = 0
		_, err := GenerateFromRelations(loopRelations(), opts)
		assert.EqualError(t, err, "path-length must be at least 1")
	})
}

func TestCheckHarness(t *testing.T) {
	opts := Defaults()
	opts.Seed = 21
	prog, err := GenerateFromRelations(loopRelations(), opts)
	require.NoError(t, err)
	require.NoError(t, checkHarness(prog.Script))

	broken := *prog.Script
	broken.Expects = append([]amber.Expect(nil), prog.Script.Expects...)
	last := len(broken.Expects) - 1
	broken.Expects[last].Values = append(broken.Expects[last].Values, 0, 0)

	err = checkHarness(&broken)
	var inv *cfg.InvariantError
	require.True(t, errors.As(err, &inv), "got %v", err)
	assert.Contains(t, inv.Rule, "emitted harness is malformed")
	assert.Contains(t, inv.Rule, "overruns")
}
