// Package fleshout turns a structured CFG into a self-checking Amber test: it
// draws random paths from the entry to an exit for every invocation, emits a
// SPIR-V compute shader whose branches follow directions read from buffers,
// and expects the sequence of executed blocks each invocation records.
package fleshout

import (
	"fmt"

	"fleshout/pkg/amber"
	"fleshout/pkg/cfg"
	"fleshout/pkg/spvasm"
)

// Program is the result of one generation request.
type Program struct {
	Graph   *cfg.Graph
	Options Options
	Paths   *PathSet

	// Module is the instrumented shader; Skeleton the bare control flow.
	Module   *spvasm.Module
	Skeleton *spvasm.Module
	Script   *amber.Script
}

// Amber renders the complete test script.
func (p *Program) Amber() string { return p.Script.String() }

// SkeletonText renders the uninstrumented shader.
func (p *Program) SkeletonText() string { return p.Skeleton.String() + "\n" }

// Generate draws the paths for every actor and synthesizes the shader and
// harness. Identical graph, options and seed give byte-identical output.
func Generate(g *cfg.Graph, opts Options) (*Program, error) {
	opts = opts.normalize()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := g.CheckStart(g.Entry()); err != nil {
		return nil, err
	}
	if preds := g.Predecessors(g.Entry()); len(preds) > 0 {
		return nil, &cfg.InvariantError{Block: g.Entry(), Rule: fmt.Sprintf("entry block is the target of a branch from %v", preds)}
	}
	gen := createProgramGenerator(g, opts)
	gen.initialize()
	return gen.goGenerator()
}

// GenerateFromRelations builds the graph and generates from it.
func GenerateFromRelations(rel cfg.Relations, opts Options) (*Program, error) {
	g, err := cfg.NewGraph(rel)
	if err != nil {
		return nil, err
	}
	return Generate(g, opts)
}
