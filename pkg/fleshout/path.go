package fleshout

import (
	"fleshout/pkg/cfg"
)

// Step is one block occurrence on a path.
type Step struct {
	Block string
	// Edge is the position in Block's jump list of the edge taken next, or -1
	// on the last step.
	Edge int
	// Iter is the iteration vector on arrival, indexed like Graph.LoopHeaders.
	Iter []int
}

// Path runs from the entry block to an exit block.
type Path struct {
	Steps []Step
}

func (p Path) Len() int { return len(p.Steps) }

func (p Path) Blocks() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Block
	}
	return out
}

// IDs maps the blocks of p to their result ids.
func (p Path) IDs(g *cfg.Graph) []uint32 {
	out := make([]uint32, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = uint32(g.BlockID(s.Block))
	}
	return out
}

func (p Path) Last() string {
	if len(p.Steps) == 0 {
		return ""
	}
	return p.Steps[len(p.Steps)-1].Block
}

// Equal compares blocks and chosen edges, so two walks that reach the same
// switch target over different parallel edges differ.
func (p Path) Equal(q Path) bool {
	if len(p.Steps) != len(q.Steps) {
		return false
	}
	for i := range p.Steps {
		if p.Steps[i].Block != q.Steps[i].Block || p.Steps[i].Edge != q.Steps[i].Edge {
			return false
		}
	}
	return true
}

// Directions returns the choices made at every occurrence of block: the edge
// index for a switch, 1 for the first and 0 for the second successor of a
// two-way branch. Blocks that are not conditional make no choice and yield
// nil.
func (p Path) Directions(g *cfg.Graph, block string) []uint32 {
	if !g.IsConditional(block) {
		return nil
	}
	var out []uint32
	for _, s := range p.Steps {
		if s.Block != block || s.Edge < 0 {
			continue
		}
		out = append(out, direction(g, block, s.Edge))
	}
	return out
}

func direction(g *cfg.Graph, block string, edge int) uint32 {
	if g.IsSwitch(block) {
		return uint32(edge)
	}
	if edge == 0 {
		return 1
	}
	return 0
}

// IterationsAt returns the iteration vectors recorded at each occurrence of
// block, in path order.
func (p Path) IterationsAt(block string) [][]int {
	var out [][]int
	for _, s := range p.Steps {
		if s.Block == block {
			out = append(out, s.Iter)
		}
	}
	return out
}

// walker draws random paths over a graph's pruned relation.
type walker struct {
	g      *cfg.Graph
	r      *rng
	length int
	loops  map[string]int
	nLoops int
}

func newWalker(g *cfg.Graph, r *rng, length int) *walker {
	w := &walker{g: g, r: r, length: length, loops: make(map[string]int)}
	for i, h := range g.LoopHeaders() {
		w.loops[h] = i
	}
	w.nLoops = len(w.loops)
	return w
}

// randomWalk follows uniformly chosen pruned edges from start until the walk
// has length steps or stands on an exit block.
func (w *walker) randomWalk(start string) ([]Step, error) {
	steps := make([]Step, 0, min(w.length, 64))
	cur := start
	for {
		steps = append(steps, Step{Block: cur, Edge: -1})
		if len(steps) >= w.length || w.g.IsExit(cur) {
			return steps, nil
		}
		edges := w.g.PrunedSuccessors(cur)
		if len(edges) == 0 {
			return nil, &cfg.InvariantError{Block: cur, Rule: "walk reached a block with no live successor"}
		}
		e := edges[w.r.pick(len(edges))]
		steps[len(steps)-1].Edge = e.Index
		cur = e.Target
	}
}

// completeToExit extends a walk that stopped early along a shortest path to
// an exit. When several parallel edges lead to the next block one of them is
// picked at random.
func (w *walker) completeToExit(steps []Step) ([]Step, error) {
	last := steps[len(steps)-1].Block
	if w.g.IsExit(last) {
		return steps, nil
	}
	suffix, err := w.g.PathToExit(last)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(suffix); i++ {
		from, to := suffix[i-1], suffix[i]
		var parallel []int
		for j, s := range w.g.Successors(from) {
			if s == to {
				parallel = append(parallel, j)
			}
		}
		edge := parallel[0]
		if len(parallel) > 1 {
			edge = parallel[w.r.pick(len(parallel))]
		}
		steps[len(steps)-1].Edge = edge
		steps = append(steps, Step{Block: to, Edge: -1})
	}
	if end := steps[len(steps)-1].Block; !w.g.IsExit(end) {
		return nil, &cfg.InvariantError{Block: end, Rule: "completed path does not end at an exit block"}
	}
	return steps, nil
}

// annotate records the iteration vector of every step. Visiting a loop's
// merge block leaves the loop; entering a header starts its count at 0 and
// each revisit while the loop is live increments it.
func (w *walker) annotate(steps []Step) {
	counts := make([]int, w.nLoops)
	live := make([]bool, w.nLoops)
	for i := range steps {
		b := steps[i].Block
		for _, h := range w.g.LoopsMergingAt(b) {
			k := w.loops[h]
			counts[k] = 0
			live[k] = false
		}
		if k, ok := w.loops[b]; ok {
			if live[k] {
				counts[k]++
			} else {
				live[k] = true
				counts[k] = 0
			}
		}
		steps[i].Iter = append([]int(nil), counts...)
	}
}

// generatePath draws one complete annotated path from the entry block.
func (w *walker) generatePath() (Path, error) {
	steps, err := w.randomWalk(w.g.Entry())
	if err != nil {
		return Path{}, err
	}
	steps, err = w.completeToExit(steps)
	if err != nil {
		return Path{}, err
	}
	w.annotate(steps)
	return Path{Steps: steps}, nil
}
