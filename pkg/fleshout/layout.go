package fleshout

import (
	"sort"
	"strconv"

	"fleshout/pkg/cfg"
)

const outputBuffer = "output"

// counter is a buffer consumed through a per-actor index. The data region of
// actor a is [starts[a], ends[a]).
type counter struct {
	name   string
	block  string // conditional block; empty for the output counter
	data   []uint32
	starts []uint32
	ends   []uint32
}

func (c *counter) indexName() string { return c.name + "_index" }

// layout places every actor's directions and expected output in the shared
// buffers.
type layout struct {
	conditionals []string // touched conditional blocks by id
	directions   map[string]*counter
	output       *counter
	touched      map[string]bool
}

func directionsBuffer(g *cfg.Graph, block string) string {
	return "directions_" + g.IDString(block)
}

func newLayout(g *cfg.Graph, set *PathSet) *layout {
	l := &layout{
		directions: make(map[string]*counter),
		touched:    make(map[string]bool),
	}
	for _, p := range set.Distinct {
		for _, s := range p.Steps {
			l.touched[s.Block] = true
			if g.IsConditional(s.Block) && l.directions[s.Block] == nil {
				l.directions[s.Block] = &counter{name: directionsBuffer(g, s.Block), block: s.Block}
				l.conditionals = append(l.conditionals, s.Block)
			}
		}
	}
	sort.Slice(l.conditionals, func(i, j int) bool {
		return g.BlockID(l.conditionals[i]) < g.BlockID(l.conditionals[j])
	})

	l.output = &counter{name: outputBuffer}
	for a := range set.Actors {
		p := set.Path(a)
		for _, b := range l.conditionals {
			c := l.directions[b]
			c.starts = append(c.starts, uint32(len(c.data)))
			c.data = append(c.data, p.Directions(g, b)...)
			c.ends = append(c.ends, uint32(len(c.data)))
		}
		o := l.output
		o.starts = append(o.starts, uint32(len(o.data)))
		o.data = append(o.data, p.IDs(g)...)
		o.data = append(o.data, 0)
		o.ends = append(o.ends, uint32(len(o.data)))
	}
	return l
}

// counters returns the direction counters in id order followed by output.
func (l *layout) counters() []*counter {
	out := make([]*counter, 0, len(l.conditionals)+1)
	for _, b := range l.conditionals {
		out = append(out, l.directions[b])
	}
	return append(out, l.output)
}

// bufferSpec is one storage buffer of the harness with its binding.
type bufferSpec struct {
	name    string
	binding int
	initial []uint32 // nil: zero filled
	size    int
	expect  []uint32
}

// buffers lists the storage buffers in binding order: for each conditional
// block its directions then their indices, then output and its indices.
func (l *layout) buffers() []bufferSpec {
	var out []bufferSpec
	add := func(b bufferSpec) {
		b.binding = len(out)
		out = append(out, b)
	}
	for _, c := range l.counters() {
		if c.block != "" {
			add(bufferSpec{name: c.name, initial: c.data, size: len(c.data), expect: c.data})
		} else {
			add(bufferSpec{name: c.name, size: len(c.data), expect: c.data})
		}
		add(bufferSpec{name: c.indexName(), initial: c.starts, size: len(c.starts), expect: c.ends})
	}
	return out
}

func sizeType(n int, part string) string {
	return "size_" + strconv.Itoa(n) + "_" + part + "_type"
}
