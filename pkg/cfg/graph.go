// Package cfg models a structured control-flow graph given as block roles plus
// jump, merge and continue relations, and derives the orderings and
// reachability facts the fleshing pipeline needs.
package cfg

import (
	"sort"
	"strconv"
)

// FirstBlockID is the result id given to the first block of the canonical
// emission order. Ids below it are reserved for the module preamble.
const FirstBlockID = 8

type Kind int

const (
	Regular Kind = iota
	LoopHeader
	SelectionHeader
	SwitchBlock
)

func (k Kind) String() string {
	switch k {
	case LoopHeader:
		return "loop-header"
	case SelectionHeader:
		return "selection-header"
	case SwitchBlock:
		return "switch"
	default:
		return "regular"
	}
}

// Relations is the typed input of the model: block role sets plus the three
// relations over block labels. Jump lists are ordered and may repeat a target.
type Relations struct {
	Entry            string
	Regular          []string
	LoopHeaders      []string
	SelectionHeaders []string
	Switches         []string

	Jump     map[string][]string
	Merge    map[string]string
	Continue map[string]string
}

// Edge is one outgoing jump edge. Index is the position of the edge in the
// block's jump list, so parallel edges stay distinguishable.
type Edge struct {
	Index  int
	Target string
}

// Graph is built once by NewGraph and is read-only afterwards.
type Graph struct {
	entry  string
	labels []string
	kind   map[string]Kind

	jump     map[string][]string
	merge    map[string]string
	cont     map[string]string
	mergedBy map[string][]string
	preds    map[string][]string

	structured map[string][]string
	back       map[string]map[string]bool
	order      []string

	ids    map[string]int
	names  map[int]string
	nextID int

	exits  []string
	doomed map[string]bool
	pruned map[string][]Edge
}

// NewGraph classifies the blocks, checks the role invariants and computes the
// structured relation, back edges, topological order, block ids and doom facts.
func NewGraph(rel Relations) (*Graph, error) {
	if rel.Entry == "" {
		return nil, invariantf("", "no entry block")
	}
	g := &Graph{
		entry:    rel.Entry,
		kind:     make(map[string]Kind),
		jump:     make(map[string][]string),
		merge:    make(map[string]string),
		cont:     make(map[string]string),
		mergedBy: make(map[string][]string),
		preds:    make(map[string][]string),
		ids:      make(map[string]int),
		names:    make(map[int]string),
		nextID:   FirstBlockID,
	}
	if err := g.classify(rel); err != nil {
		return nil, err
	}
	if err := g.copyRelations(rel); err != nil {
		return nil, err
	}
	if err := g.checkRoles(); err != nil {
		return nil, err
	}
	g.structured = g.computeStructured()
	g.back = g.computeBackEdges()
	order, err := g.computeTopologicalOrder()
	if err != nil {
		return nil, err
	}
	g.order = order
	g.assignIDs()
	g.computePredecessors()
	g.computeDoom()
	return g, nil
}

func (g *Graph) classify(rel Relations) error {
	add := func(labels []string, k Kind) {
		for _, l := range labels {
			if cur, ok := g.kind[l]; !ok || k > cur {
				g.kind[l] = k
			}
		}
	}
	add([]string{rel.Entry}, Regular)
	add(rel.Regular, Regular)
	add(rel.LoopHeaders, LoopHeader)
	add(rel.SelectionHeaders, SelectionHeader)

	loops := toSet(rel.LoopHeaders)
	selections := toSet(rel.SelectionHeaders)
	for _, l := range sortedKeys(loops) {
		if selections[l] {
			return invariantf(l, "block is both a loop header and a selection header")
		}
	}
	for _, l := range rel.Switches {
		if loops[l] {
			return invariantf(l, "block is both a loop header and a switch block")
		}
		if !selections[l] {
			return invariantf(l, "switch block is not a selection header")
		}
		g.kind[l] = SwitchBlock
	}
	g.labels = sortedKeys(g.kind)
	return nil
}

func (g *Graph) copyRelations(rel Relations) error {
	known := func(l string) error {
		if _, ok := g.kind[l]; !ok {
			return invariantf(l, "block is referenced but has no role")
		}
		return nil
	}
	for _, from := range sortedKeys(rel.Jump) {
		if err := known(from); err != nil {
			return err
		}
		succs := rel.Jump[from]
		for _, to := range succs {
			if err := known(to); err != nil {
				return err
			}
		}
		if len(succs) > 0 {
			g.jump[from] = append([]string(nil), succs...)
		}
	}
	for _, h := range sortedKeys(rel.Merge) {
		m := rel.Merge[h]
		if err := known(h); err != nil {
			return err
		}
		if err := known(m); err != nil {
			return err
		}
		if g.kind[h] == Regular {
			return invariantf(h, "merge target %s declared on a block that is not a header", m)
		}
		g.merge[h] = m
		if g.kind[h] == LoopHeader {
			g.mergedBy[m] = append(g.mergedBy[m], h)
		}
	}
	for _, h := range sortedKeys(rel.Continue) {
		c := rel.Continue[h]
		if err := known(h); err != nil {
			return err
		}
		if err := known(c); err != nil {
			return err
		}
		if g.kind[h] != LoopHeader {
			return invariantf(h, "continue target %s declared on a block that is not a loop header", c)
		}
		g.cont[h] = c
	}
	return nil
}

func (g *Graph) checkRoles() error {
	for _, l := range g.labels {
		n := len(g.jump[l])
		_, hasMerge := g.merge[l]
		_, hasCont := g.cont[l]
		switch g.kind[l] {
		case LoopHeader:
			if n != 1 && n != 2 {
				return invariantf(l, "loop header has %d successors, want 1 or 2", n)
			}
			if !hasMerge || !hasCont {
				return invariantf(l, "loop header needs both a merge and a continue target")
			}
		case SelectionHeader:
			if n != 2 {
				return invariantf(l, "selection header has %d successors, want 2", n)
			}
			if !hasMerge {
				return invariantf(l, "selection header has no merge target")
			}
		case SwitchBlock:
			if n < 1 {
				return invariantf(l, "switch block has no successors")
			}
			if !hasMerge {
				return invariantf(l, "switch block has no merge target")
			}
		default:
			if n > 2 {
				return invariantf(l, "block has %d successors, want at most 2", n)
			}
		}
	}
	return nil
}

func (g *Graph) computeStructured() map[string][]string {
	out := make(map[string][]string, len(g.labels))
	for _, l := range g.labels {
		var succs []string
		seen := make(map[string]bool)
		for _, s := range g.jump[l] {
			if !seen[s] {
				seen[s] = true
				succs = append(succs, s)
			}
		}
		if m, ok := g.merge[l]; ok && !seen[m] {
			seen[m] = true
			succs = append(succs, m)
		}
		if c, ok := g.cont[l]; ok && !seen[c] {
			succs = append(succs, c)
		}
		if len(succs) > 0 {
			out[l] = succs
		}
	}
	return out
}

// computeBackEdges runs a single depth-first traversal from the entry over the
// structured relation with an explicit stack; an edge into a block that is
// still on the stack is a back edge.
func (g *Graph) computeBackEdges() map[string]map[string]bool {
	type frame struct {
		block string
		next  int
	}
	back := make(map[string]map[string]bool)
	visited := map[string]bool{g.entry: true}
	onStack := map[string]bool{g.entry: true}
	stack := []frame{{block: g.entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := g.structured[top.block]
		if top.next >= len(succs) {
			onStack[top.block] = false
			stack = stack[:len(stack)-1]
			continue
		}
		s := succs[top.next]
		top.next++
		if onStack[s] {
			if back[top.block] == nil {
				back[top.block] = make(map[string]bool)
			}
			back[top.block][s] = true
			continue
		}
		if !visited[s] {
			visited[s] = true
			onStack[s] = true
			stack = append(stack, frame{block: s})
		}
	}
	return back
}

// computeTopologicalOrder is Kahn's algorithm over the structured relation with
// back edges removed. The entry is seeded first; other ready blocks follow in
// label order and the ready queue is FIFO.
func (g *Graph) computeTopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.labels))
	for _, l := range g.labels {
		for _, s := range g.structured[l] {
			if g.back[l][s] {
				continue
			}
			inDegree[s]++
		}
	}
	if inDegree[g.entry] != 0 {
		return nil, invariantf(g.entry, "entry block has %d forward predecessors", inDegree[g.entry])
	}
	queue := []string{g.entry}
	for _, l := range g.labels {
		if l != g.entry && inDegree[l] == 0 {
			queue = append(queue, l)
		}
	}
	order := make([]string, 0, len(g.labels))
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		order = append(order, b)
		for _, s := range g.structured[b] {
			if g.back[b][s] {
				continue
			}
			if inDegree[s] <= 0 {
				return nil, invariantf(s, "in-degree underflow while ordering successor of %s", b)
			}
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if len(order) != len(g.labels) {
		return nil, invariantf("", "topological order covers %d of %d blocks (unaccounted cycle)", len(order), len(g.labels))
	}
	return order, nil
}

// assignIDs walks the topological order the way the emitter references labels:
// the block itself, its structural targets, then its successors.
func (g *Graph) assignIDs() {
	for _, l := range g.order {
		g.BlockID(l)
		switch g.kind[l] {
		case LoopHeader:
			g.BlockID(g.merge[l])
			g.BlockID(g.cont[l])
		case SelectionHeader, SwitchBlock:
			g.BlockID(g.merge[l])
		}
		for _, s := range g.jump[l] {
			g.BlockID(s)
		}
	}
}

func (g *Graph) computePredecessors() {
	for _, l := range g.order {
		seen := make(map[string]bool)
		for _, s := range g.jump[l] {
			if !seen[s] {
				seen[s] = true
				g.preds[s] = append(g.preds[s], l)
			}
		}
	}
}

// BlockID returns the numeric id of label, assigning the next free id on the
// first request. NewGraph assigns every block up front, so after construction
// this only reads.
func (g *Graph) BlockID(label string) int {
	if id, ok := g.ids[label]; ok {
		return id
	}
	id := g.nextID
	g.nextID++
	g.ids[label] = id
	g.names[id] = label
	return id
}

// IDString is BlockID formatted for use as an assembly result id.
func (g *Graph) IDString(label string) string {
	return strconv.Itoa(g.BlockID(label))
}

// Label maps an id back to its block label.
func (g *Graph) Label(id int) (string, bool) {
	l, ok := g.names[id]
	return l, ok
}

func (g *Graph) Entry() string { return g.entry }

// Blocks returns every block label in sorted order.
func (g *Graph) Blocks() []string { return append([]string(nil), g.labels...) }

func (g *Graph) Kind(label string) Kind { return g.kind[label] }

func (g *Graph) IsLoopHeader(label string) bool { return g.kind[label] == LoopHeader }

func (g *Graph) IsSwitch(label string) bool { return g.kind[label] == SwitchBlock }

func (g *Graph) IsSelectionHeader(label string) bool {
	k := g.kind[label]
	return k == SelectionHeader || k == SwitchBlock
}

// IsConditional reports whether the block terminates in a data-dependent
// branch: more than one successor, or any switch.
func (g *Graph) IsConditional(label string) bool {
	return len(g.jump[label]) > 1 || g.kind[label] == SwitchBlock
}

// Successors returns the raw jump list of label, duplicates included.
func (g *Graph) Successors(label string) []string {
	return append([]string(nil), g.jump[label]...)
}

// NumSuccessors is len(Successors(label)) without the copy.
func (g *Graph) NumSuccessors(label string) int { return len(g.jump[label]) }

// Successor returns the i-th jump target of label.
func (g *Graph) Successor(label string, i int) string { return g.jump[label][i] }

// Predecessors returns the distinct blocks jumping to label, ordered by their
// position in the topological order.
func (g *Graph) Predecessors(label string) []string {
	return append([]string(nil), g.preds[label]...)
}

func (g *Graph) Merge(label string) (string, bool) {
	m, ok := g.merge[label]
	return m, ok
}

func (g *Graph) Continue(label string) (string, bool) {
	c, ok := g.cont[label]
	return c, ok
}

// LoopsMergingAt returns the loop headers whose merge block is label.
func (g *Graph) LoopsMergingAt(label string) []string { return g.mergedBy[label] }

// LoopHeaders returns the loop headers in sorted order; iteration vectors are
// indexed by this order.
func (g *Graph) LoopHeaders() []string {
	var out []string
	for _, l := range g.labels {
		if g.IsLoopHeader(l) {
			out = append(out, l)
		}
	}
	return out
}

// StructuredSuccessors returns the deduplicated jump list plus any merge or
// continue target it lacks. It is used for ordering only.
func (g *Graph) StructuredSuccessors(label string) []string {
	return append([]string(nil), g.structured[label]...)
}

// BackEdges returns the back edges found from the entry, keyed by source.
func (g *Graph) BackEdges() map[string][]string {
	out := make(map[string][]string, len(g.back))
	for from, tos := range g.back {
		out[from] = sortedKeys(tos)
	}
	return out
}

func (g *Graph) IsBackEdge(from, to string) bool { return g.back[from][to] }

// TopologicalOrder returns all blocks, entry first.
func (g *Graph) TopologicalOrder() []string { return append([]string(nil), g.order...) }

func toSet(labels []string) map[string]bool {
	s := make(map[string]bool, len(labels))
	for _, l := range labels {
		s[l] = true
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
