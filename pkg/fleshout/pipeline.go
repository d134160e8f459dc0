package fleshout

import (
	"fmt"

	"fleshout/pkg/amber"
	"fleshout/pkg/cfg"
	"fleshout/pkg/spvasm"
)

// defaultProgramGenerator runs the stages in order:
// initialize -> choosePaths -> layoutBuffers -> emitShader -> emitHarness.
type defaultProgramGenerator struct {
	opts Options
	g    *cfg.Graph
	inst instrumentation
	r    *rng

	set    *PathSet
	layout *layout
	module *spvasm.Module
}

func newDefaultProgramGenerator(g *cfg.Graph, opts Options, inst instrumentation) *defaultProgramGenerator {
	return &defaultProgramGenerator{opts: opts, g: g, inst: inst}
}

func (p *defaultProgramGenerator) initialize() {
	p.r = newRNG(p.opts.Seed)
}

// choosePaths draws the first path and its barriers, then the paths of the
// remaining actors.
func (p *defaultProgramGenerator) choosePaths() error {
	w := newWalker(p.g, p.r, p.opts.PathLength)
	original, err := w.generatePath()
	if err != nil {
		return err
	}
	barriers := chooseBarriers(p.g, p.r, original, p.opts.BarrierProb)
	p.set, err = compatibleSet(w, original, barriers, p.opts.Actors(), p.opts.MaxAttempts)
	return err
}

func (p *defaultProgramGenerator) layoutBuffers() {
	p.layout = newLayout(p.g, p.set)
}

func (p *defaultProgramGenerator) emitShader() error {
	p.module = newEmitter(p.g, p.opts, p.set, p.layout, p.inst).emit()
	if err := p.module.Validate(); err != nil {
		return &cfg.InvariantError{Rule: fmt.Sprintf("emitted shader is malformed: %v", err)}
	}
	return nil
}

func (p *defaultProgramGenerator) emitHarness() (*Program, error) {
	script := harness(p.opts, p.layout, p.module)
	if err := checkHarness(script); err != nil {
		return nil, err
	}
	return &Program{
		Graph:    p.g,
		Options:  p.opts,
		Paths:    p.set,
		Module:   p.module,
		Skeleton: skeleton(p.g),
		Script:   script,
	}, nil
}

func checkHarness(s *amber.Script) error {
	if err := s.Validate(); err != nil {
		return &cfg.InvariantError{Rule: fmt.Sprintf("emitted harness is malformed: %v", err)}
	}
	return nil
}

func (p *defaultProgramGenerator) goGenerator() (*Program, error) {
	if err := p.choosePaths(); err != nil {
		return nil, err
	}
	p.layoutBuffers()
	if err := p.emitShader(); err != nil {
		return nil, err
	}
	return p.emitHarness()
}
