package cfg

// computeDoom finds the exit blocks and marks every block from which none of
// them is reachable over the raw jump relation. Walking the reversed relation
// from all exits at once gives the same answer as a forward search per block.
func (g *Graph) computeDoom() {
	reverse := make(map[string][]string)
	for _, l := range g.labels {
		succs := g.jump[l]
		if len(succs) == 0 {
			g.exits = append(g.exits, l)
			continue
		}
		for _, s := range succs {
			reverse[s] = append(reverse[s], l)
		}
	}

	alive := make(map[string]bool, len(g.labels))
	queue := append([]string(nil), g.exits...)
	for _, e := range g.exits {
		alive[e] = true
	}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, p := range reverse[b] {
			if !alive[p] {
				alive[p] = true
				queue = append(queue, p)
			}
		}
	}

	g.doomed = make(map[string]bool)
	for _, l := range g.labels {
		if !alive[l] {
			g.doomed[l] = true
		}
	}

	g.pruned = make(map[string][]Edge, len(alive))
	for _, l := range g.labels {
		if g.doomed[l] {
			continue
		}
		edges := []Edge{}
		for i, s := range g.jump[l] {
			if !g.doomed[s] {
				edges = append(edges, Edge{Index: i, Target: s})
			}
		}
		g.pruned[l] = edges
	}
}

// ExitBlocks returns the blocks without outgoing jump edges, in label order.
func (g *Graph) ExitBlocks() []string { return append([]string(nil), g.exits...) }

func (g *Graph) IsExit(label string) bool {
	_, known := g.kind[label]
	return known && len(g.jump[label]) == 0
}

// IsDoomed reports whether no exit block is reachable from label.
func (g *Graph) IsDoomed(label string) bool { return g.doomed[label] }

// DoomedBlocks returns the doomed blocks in label order.
func (g *Graph) DoomedBlocks() []string { return sortedKeys(g.doomed) }

// Pruned returns the jump relation restricted to non-doomed blocks with edges
// into doomed blocks removed. Exit blocks map to an empty list.
func (g *Graph) Pruned() map[string][]Edge {
	out := make(map[string][]Edge, len(g.pruned))
	for l, edges := range g.pruned {
		cp := make([]Edge, len(edges))
		copy(cp, edges)
		out[l] = cp
	}
	return out
}

// PrunedSuccessors returns the pruned out-edges of label. The slice is shared
// and must not be modified.
func (g *Graph) PrunedSuccessors(label string) []Edge { return g.pruned[label] }

// CheckTerminals fails when the CFG has no exit block at all.
func (g *Graph) CheckTerminals() error {
	if len(g.exits) == 0 {
		return &NoTerminalNodesError{}
	}
	return nil
}

// CheckStart fails when generation would start from a doomed block.
func (g *Graph) CheckStart(label string) error {
	if err := g.CheckTerminals(); err != nil {
		return err
	}
	if g.doomed[label] {
		return &AllTerminalNodesUnreachableError{Block: label, Exits: g.ExitBlocks()}
	}
	return nil
}

// PathToExit is a breadth-first search over the full jump relation from label
// to the nearest exit block. The returned path starts with label.
func (g *Graph) PathToExit(label string) ([]string, error) {
	parent := map[string]string{label: ""}
	queue := []string{label}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if g.IsExit(b) {
			var path []string
			for cur := b; cur != label; cur = parent[cur] {
				path = append(path, cur)
			}
			path = append(path, label)
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, nil
		}
		for _, s := range g.jump[b] {
			if _, seen := parent[s]; !seen {
				parent[s] = b
				queue = append(queue, s)
			}
		}
	}
	return nil, &TerminalNodesUnreachableError{Block: label, Exits: g.ExitBlocks()}
}
