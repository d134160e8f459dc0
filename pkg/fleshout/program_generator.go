package fleshout

import (
	"fleshout/pkg/cfg"
	"fleshout/pkg/spvasm"
)

// absProgramGenerator is the generation flow: initialize, then goGenerator
// runs every stage and returns the finished program.
type absProgramGenerator interface {
	initialize()
	goGenerator() (*Program, error)
}

// instrumentation decides how the output and direction indices are carried
// through the shader.
type instrumentation interface {
	// declare returns the instructions opening the entry block.
	declare(e *emitter) []spvasm.Line
	// start makes the loaded start index of c the current one.
	start(e *emitter, c *counter) []spvasm.Line
	phis(e *emitter, label string) []spvasm.Line
	bookkeeping(e *emitter, label string) []spvasm.Line
	// final yields the value of c at the end of label.
	final(e *emitter, label string, c *counter) ([]spvasm.Line, spvasm.Operand)
}

func createInstrumentation(opts Options) instrumentation {
	if opts.PhiInstrumentation {
		return phiInstrumentation{}
	}
	return memoryInstrumentation{}
}

func createProgramGenerator(g *cfg.Graph, opts Options) absProgramGenerator {
	return newDefaultProgramGenerator(g, opts, createInstrumentation(opts))
}
