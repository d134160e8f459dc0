package fleshout

import (
	"fleshout/pkg/cfg"
	"fleshout/pkg/spvasm"
)

// skeleton renders the bare control flow of g: every two-way branch on
// constant true and every switch on constant zero.
func skeleton(g *cfg.Graph) *spvasm.Module {
	var m spvasm.Module
	m.Add(
		spvasm.Inst(spvasm.OpCapability, spvasm.Word("Shader")),
		spvasm.Inst(spvasm.OpMemoryModel, spvasm.Word("Logical"), spvasm.Word("GLSL450")),
		spvasm.Inst(spvasm.OpEntryPoint, spvasm.Word("GLCompute"), mainFn, spvasm.Str("main")),
		spvasm.Inst(spvasm.OpExecutionMode, mainFn, spvasm.Word("LocalSize"), spvasm.Lit(1), spvasm.Lit(1), spvasm.Lit(1)),
	)
	m.Add(reservedTypes()...)
	m.Add(spvasm.Blank{}, spvasm.Def(mainFn, spvasm.OpFunction, voidType, spvasm.Word("None"), mainFnType), spvasm.Blank{})
	for _, label := range g.TopologicalOrder() {
		m.Add(spvasm.Def(spvasm.ID(g.IDString(label)), spvasm.OpLabel).WithComment(label))
		m.Add(mergeLines(g, label)...)
		m.Add(terminator(g, label, false))
	}
	m.Add(spvasm.Inst(spvasm.OpFunctionEnd))
	return &m
}
