package fleshout

import (
	"slices"

	"fleshout/pkg/cfg"
)

// PathSet is the finalized assignment of paths to actors.
type PathSet struct {
	// Distinct holds the accepted paths; Distinct[0] is the first path drawn.
	Distinct []Path
	// Actors maps each actor index to an index into Distinct.
	Actors []int
	// Barriers maps each barrier block to a seed-derived insertion point.
	Barriers map[string]uint32
	// Attempts is the number of candidate paths drawn after the first.
	Attempts int
}

// Path returns the path followed by actor.
func (s *PathSet) Path(actor int) Path { return s.Distinct[s.Actors[actor]] }

// IsBarrier reports whether block synchronizes the actors of a workgroup.
func (s *PathSet) IsBarrier(block string) bool {
	_, ok := s.Barriers[block]
	return ok
}

// chooseBarriers includes each distinct non-entry block of p with
// probability prob percent and draws its insertion point.
func chooseBarriers(g *cfg.Graph, r *rng, p Path, prob int) map[string]uint32 {
	barriers := make(map[string]uint32)
	if prob <= 0 {
		return barriers
	}
	seen := map[string]bool{g.Entry(): true}
	for _, s := range p.Steps {
		if seen[s.Block] {
			continue
		}
		seen[s.Block] = true
		if r.flipcoin(uint32(prob)) {
			barriers[s.Block] = r.point()
		}
	}
	return barriers
}

// Compatible reports whether actors following p and q reach every barrier
// block the same number of times and with equal iteration vectors each time.
func Compatible(p, q Path, barriers map[string]uint32) bool {
	for b := range barriers {
		pi, qi := p.IterationsAt(b), q.IterationsAt(b)
		if len(pi) != len(qi) {
			return false
		}
		for i := range pi {
			if !slices.Equal(pi[i], qi[i]) {
				return false
			}
		}
	}
	return true
}

// compatibleSet draws candidates until there is one distinct compatible path
// per actor or maxAttempts candidates were tried. Actors beyond the number of
// distinct paths found sample the found paths with replacement.
func compatibleSet(w *walker, original Path, barriers map[string]uint32, actors, maxAttempts int) (*PathSet, error) {
	set := &PathSet{Distinct: []Path{original}, Barriers: barriers}
	for set.Attempts < maxAttempts && len(set.Distinct) < actors {
		set.Attempts++
		cand, err := w.generatePath()
		if err != nil {
			return nil, err
		}
		if !Compatible(original, cand, barriers) {
			continue
		}
		if slices.ContainsFunc(set.Distinct, cand.Equal) {
			continue
		}
		set.Distinct = append(set.Distinct, cand)
	}
	set.Actors = make([]int, actors)
	for a := range set.Actors {
		if a < len(set.Distinct) {
			set.Actors[a] = a
			continue
		}
		set.Actors[a] = w.r.pick(len(set.Distinct))
	}
	return set, nil
}
