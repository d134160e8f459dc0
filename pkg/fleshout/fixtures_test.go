package fleshout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fleshout/pkg/cfg"
)

// loopRelations: E -> L, L -> [Body, M] (merge M, continue C), Body -> C,
// C -> L, M exits. Ids: E8 L9 M10 C11 Body12.
func loopRelations() cfg.Relations {
	return cfg.Relations{
		Entry:       "E",
		Regular:     []string{"E", "Body", "C", "M"},
		LoopHeaders: []string{"L"},
		Jump: map[string][]string{
			"E":    {"L"},
			"L":    {"Body", "M"},
			"Body": {"C"},
			"C":    {"L"},
		},
		Merge:    map[string]string{"L": "M"},
		Continue: map[string]string{"L": "C"},
	}
}

// switchRelations: a selection diamond followed by a switch whose edges 0
// and 2 both lead to T0.
func switchRelations() cfg.Relations {
	return cfg.Relations{
		Entry:            "E",
		Regular:          []string{"A", "B", "M", "T0", "T1", "X"},
		SelectionHeaders: []string{"E", "S"},
		Switches:         []string{"S"},
		Jump: map[string][]string{
			"E":  {"A", "B"},
			"A":  {"M"},
			"B":  {"M"},
			"M":  {"S"},
			"S":  {"T0", "T1", "T0"},
			"T0": {"X"},
			"T1": {"X"},
		},
		Merge: map[string]string{"E": "M", "S": "X"},
	}
}

func nestedLoopRelations() cfg.Relations {
	return cfg.Relations{
		Entry:       "E",
		Regular:     []string{"E", "B1", "C1", "M1", "B2", "C2", "M2"},
		LoopHeaders: []string{"L1", "L2"},
		Jump: map[string][]string{
			"E":  {"L1"},
			"L1": {"B1", "M1"},
			"B1": {"L2"},
			"L2": {"B2", "M2"},
			"B2": {"C2"},
			"C2": {"L2"},
			"M2": {"C1"},
			"C1": {"L1"},
		},
		Merge:    map[string]string{"L1": "M1", "L2": "M2"},
		Continue: map[string]string{"L1": "C1", "L2": "C2"},
	}
}

// trapRelations: E branches to the exit X or into S, where the switch can
// fall into the D <-> D2 cycle that never exits.
func trapRelations() cfg.Relations {
	return cfg.Relations{
		Entry:            "E",
		Regular:          []string{"A", "D", "D2", "M", "X"},
		SelectionHeaders: []string{"E", "S"},
		Switches:         []string{"S"},
		Jump: map[string][]string{
			"E":  {"S", "X"},
			"S":  {"A", "D", "A"},
			"A":  {"M"},
			"D":  {"D2"},
			"D2": {"D"},
			"M":  {"X"},
		},
		Merge: map[string]string{"E": "X", "S": "M"},
	}
}

func mustGraph(t *testing.T, rel cfg.Relations) *cfg.Graph {
	t.Helper()
	g, err := cfg.NewGraph(rel)
	require.NoError(t, err)
	return g
}

// annotatedPath builds the path through blocks, taking the first edge to
// each next block, and records its iteration vectors.
func annotatedPath(t *testing.T, g *cfg.Graph, blocks ...string) Path {
	t.Helper()
	steps := make([]Step, len(blocks))
	for i, b := range blocks {
		steps[i] = Step{Block: b, Edge: -1}
		if i+1 < len(blocks) {
			for j, s := range g.Successors(b) {
				if s == blocks[i+1] {
					steps[i].Edge = j
					break
				}
			}
			require.GreaterOrEqual(t, steps[i].Edge, 0, "%s does not jump to %s", b, blocks[i+1])
		}
	}
	newWalker(g, nil, len(blocks)).annotate(steps)
	return Path{Steps: steps}
}
