package cfg

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopRelations is E -> L, L -> [Body, M] (merge M, continue C), Body -> C,
// C -> L, M exits.
func loopRelations() Relations {
	return Relations{
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

// switchRelations is a selection diamond followed by a switch with a parallel
// edge pair to T0.
func switchRelations() Relations {
	return Relations{
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

func TestNewGraphLoop(t *testing.T) {
	g, err := NewGraph(loopRelations())
	require.NoError(t, err)

	assert.Equal(t, "E", g.Entry())
	assert.Equal(t, []string{"E", "L", "Body", "M", "C"}, g.TopologicalOrder())
	assert.Equal(t, map[string][]string{"C": {"L"}}, g.BackEdges())
	assert.True(t, g.IsBackEdge("C", "L"))
	assert.Equal(t, []string{"Body", "M", "C"}, g.StructuredSuccessors("L"))

	wantIDs := map[string]int{"E": 8, "L": 9, "M": 10, "C": 11, "Body": 12}
	for label, id := range wantIDs {
		assert.Equal(t, id, g.BlockID(label), label)
		got, ok := g.Label(id)
		require.True(t, ok)
		assert.Equal(t, label, got)
	}
	assert.Equal(t, []string{"L"}, g.LoopsMergingAt("M"))
	assert.Equal(t, []string{"L"}, g.LoopHeaders())
	assert.True(t, g.IsLoopHeader("L"))
	assert.False(t, g.IsLoopHeader("C"))
	assert.False(t, g.IsLoopHeader("missing"))
	assert.Equal(t, []string{"E", "C"}, g.Predecessors("L"))
}

func TestStructuredRelationDeduplicates(t *testing.T) {
	g, err := NewGraph(switchRelations())
	require.NoError(t, err)

	assert.Equal(t, []string{"T0", "T1", "X"}, g.StructuredSuccessors("S"))
	assert.Equal(t, []string{"T0", "T1", "T0"}, g.Successors("S"))
	assert.True(t, g.IsConditional("S"))
	assert.True(t, g.IsConditional("E"))
	assert.False(t, g.IsConditional("M"))
	assert.Equal(t, SwitchBlock, g.Kind("S"))
	assert.True(t, g.IsSelectionHeader("S"))
}

func TestTopologicalOrderRespectsForwardEdges(t *testing.T) {
	for name, rel := range map[string]Relations{
		"loop":   loopRelations(),
		"switch": switchRelations(),
		"nested": nestedLoopRelations(),
	} {
		t.Run(name, func(t *testing.T) {
			g, err := NewGraph(rel)
			require.NoError(t, err)
			order := g.TopologicalOrder()
			require.Equal(t, g.Entry(), order[0])
			require.Len(t, order, len(g.Blocks()))
			pos := make(map[string]int)
			for i, b := range order {
				pos[b] = i
			}
			for _, u := range order {
				for _, v := range g.StructuredSuccessors(u) {
					if g.IsBackEdge(u, v) {
						continue
					}
					assert.Less(t, pos[u], pos[v], "%s -> %s", u, v)
				}
			}
		})
	}
}

func nestedLoopRelations() Relations {
	return Relations{
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

func TestNewGraphRejectsBadRoles(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(r *Relations)
		block string
	}{
		{
			name:  "loop_and_selection",
			edit:  func(r *Relations) { r.SelectionHeaders = []string{"L"} },
			block: "L",
		},
		{
			name: "switch_not_selection",
			edit: func(r *Relations) {
				r.Switches = []string{"Body"}
			},
			block: "Body",
		},
		{
			name:  "loop_three_successors",
			edit:  func(r *Relations) { r.Jump["L"] = []string{"Body", "M", "C"} },
			block: "L",
		},
		{
			name:  "loop_without_continue",
			edit:  func(r *Relations) { delete(r.Continue, "L") },
			block: "L",
		},
		{
			name:  "unknown_target",
			edit:  func(r *Relations) { r.Jump["Body"] = []string{"Nowhere"} },
			block: "Nowhere",
		},
		{
			name:  "plain_block_three_successors",
			edit:  func(r *Relations) { r.Jump["Body"] = []string{"C", "C", "M"} },
			block: "Body",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rel := loopRelations()
			tc.edit(&rel)
			_, err := NewGraph(rel)
			var inv *InvariantError
			require.True(t, errors.As(err, &inv), "got %v", err)
			assert.Equal(t, tc.block, inv.Block)
		})
	}
}

func TestNewGraphRejectsUnreachableCycle(t *testing.T) {
	rel := loopRelations()
	rel.Regular = append(rel.Regular, "X", "Y")
	rel.Jump["X"] = []string{"Y"}
	rel.Jump["Y"] = []string{"X"}

	_, err := NewGraph(rel)
	var inv *InvariantError
	require.True(t, errors.As(err, &inv), "got %v", err)
	assert.Contains(t, inv.Rule, "topological order")
}

func TestBlockIDIsMemoized(t *testing.T) {
	g, err := NewGraph(switchRelations())
	require.NoError(t, err)

	seen := make(map[int]string)
	for _, b := range g.TopologicalOrder() {
		id := g.BlockID(b)
		assert.Equal(t, id, g.BlockID(b))
		assert.GreaterOrEqual(t, id, FirstBlockID)
		if prev, dup := seen[id]; dup {
			t.Fatalf("id %d shared by %s and %s", id, prev, b)
		}
		seen[id] = b
	}
	assert.Equal(t, FirstBlockID, g.BlockID("E"))
	assert.Equal(t, "8", g.IDString("E"))

	again, err := NewGraph(switchRelations())
	require.NoError(t, err)
	for _, b := range g.Blocks() {
		assert.Equal(t, g.BlockID(b), again.BlockID(b), b)
	}
}

func TestSwitchGraphIDs(t *testing.T) {
	g, err := NewGraph(switchRelations())
	require.NoError(t, err)

	got := make(map[string]int)
	for _, b := range g.Blocks() {
		got[b] = g.BlockID(b)
	}
	// E, its merge M, its successors A and B, then S (from M), then S's merge X
	// and successors T0, T1.
	want := map[string]int{"E": 8, "M": 9, "A": 10, "B": 11, "S": 12, "X": 13, "T0": 14, "T1": 15}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}
