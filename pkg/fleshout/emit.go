package fleshout

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"fleshout/pkg/cfg"
	"fleshout/pkg/spvasm"
)

// Reserved result ids of the module preamble.
const (
	voidType   spvasm.ID = "1"
	mainFnType spvasm.ID = "2"
	boolType   spvasm.ID = "3"
	uintType   spvasm.ID = "4"
	trueConst  spvasm.ID = "5"
	zeroConst  spvasm.ID = "6"
	mainFn     spvasm.ID = "7"
)

const (
	localIntPtr        spvasm.ID = "local_int_ptr"
	storageIntPtr      spvasm.ID = "storage_buffer_int_ptr"
	inputIntPtr        spvasm.ID = "input_int_ptr"
	vec3Input          spvasm.ID = "vec_3_input"
	workgroupPtr       spvasm.ID = "workgroup_ptr"
	localInvocationVar spvasm.ID = "local_invocation_idx_var"
	workgroupIDVar     spvasm.ID = "workgroup_id_var"
	localInvocationIdx spvasm.ID = "local_invocation_idx"
	actorIdx           spvasm.ID = "actor_idx"
)

func variable(buffer string) spvasm.ID { return spvasm.ID(buffer + "_variable") }

func temp(blockID string, k int) spvasm.ID {
	return spvasm.ID("temp_" + blockID + "_" + strconv.Itoa(k))
}

// emitter lowers a graph and a finalized path set to an instrumented module.
type emitter struct {
	g         *cfg.Graph
	opts      Options
	set       *PathSet
	l         *layout
	inst      instrumentation
	constants map[uint32]bool
}

func newEmitter(g *cfg.Graph, opts Options, set *PathSet, l *layout, inst instrumentation) *emitter {
	return &emitter{g: g, opts: opts, set: set, l: l, inst: inst, constants: make(map[uint32]bool)}
}

// constant returns the id of the uint constant v and records that it must be
// declared.
func (e *emitter) constant(v uint32) spvasm.ID {
	e.constants[v] = true
	return spvasm.ID("constant_" + strconv.FormatUint(uint64(v), 10))
}

func (e *emitter) comment(in *spvasm.Instruction, c string) *spvasm.Instruction {
	if e.opts.Concise {
		return in
	}
	return in.WithComment(c)
}

// outputIncrement is 2 at exit blocks so each actor's output ends with a 0.
func (e *emitter) outputIncrement(label string) uint32 {
	if e.g.IsExit(label) {
		return 2
	}
	return 1
}

func (e *emitter) emit() *spvasm.Module {
	body := e.function()
	var m spvasm.Module
	if !e.opts.Concise {
		m.Add(e.describe()...)
	}
	m.Add(e.preamble()...)
	m.Add(body...)
	return &m
}

func (e *emitter) function() []spvasm.Line {
	var lines []spvasm.Line
	lines = append(lines, spvasm.Blank{}, spvasm.Def(mainFn, spvasm.OpFunction, voidType, spvasm.Word("None"), mainFnType))
	for _, label := range e.g.TopologicalOrder() {
		lines = append(lines, e.block(label)...)
	}
	return append(lines, spvasm.Inst(spvasm.OpFunctionEnd))
}

func (e *emitter) block(label string) []spvasm.Line {
	lines := []spvasm.Line{
		spvasm.Blank{},
		spvasm.Def(spvasm.ID(e.g.IDString(label)), spvasm.OpLabel).WithComment(label),
	}
	if label == e.g.Entry() {
		lines = append(lines, e.inst.declare(e)...)
		lines = append(lines, e.actorIndex()...)
		for _, c := range e.l.counters() {
			lines = append(lines, e.loadStart(c)...)
			lines = append(lines, e.inst.start(e, c)...)
		}
	} else {
		lines = append(lines, e.inst.phis(e, label)...)
	}

	if e.l.touched[label] {
		book := e.inst.bookkeeping(e, label)
		if point, ok := e.set.Barriers[label]; ok {
			at := int(point % uint32(len(book)+1))
			barrier := e.comment(spvasm.Inst(spvasm.OpControlBarrier, e.constant(2), e.constant(2), e.constant(0)), "Barrier with Workgroup scope")
			book = slices.Insert(book, at, spvasm.Line(barrier))
		}
		lines = append(lines, book...)
	}
	if e.g.IsExit(label) {
		lines = append(lines, e.writeBack(label)...)
	}
	lines = append(lines, mergeLines(e.g, label)...)
	return append(lines, terminator(e.g, label, e.l.directions[label] != nil))
}

// actorIndex computes the flattened index of the invocation:
// workgroup_idx * threads_per_workgroup + LocalInvocationIndex.
func (e *emitter) actorIndex() []spvasm.Line {
	x := uint32(e.opts.WorkgroupsX)
	xy := uint32(e.opts.WorkgroupsX * e.opts.WorkgroupsY)
	threads := uint32(e.opts.ThreadsPerWorkgroup())
	var lines []spvasm.Line
	lines = append(lines, spvasm.Def(localInvocationIdx, spvasm.OpLoad, uintType, localInvocationVar))
	for i, axis := range []string{"x", "y", "z"} {
		lines = append(lines, spvasm.Def(spvasm.ID(axis+"_wg_dim_ptr"), spvasm.OpAccessChain, inputIntPtr, workgroupIDVar, e.constant(uint32(i))))
	}
	for _, axis := range []string{"x", "y", "z"} {
		lines = append(lines, spvasm.Def(spvasm.ID(axis+"_wg_dim"), spvasm.OpLoad, uintType, spvasm.ID(axis+"_wg_dim_ptr")))
	}
	return append(lines,
		spvasm.Def("z_idx_component", spvasm.OpIMul, uintType, spvasm.ID("z_wg_dim"), e.constant(xy)),
		spvasm.Def("y_idx_component", spvasm.OpIMul, uintType, spvasm.ID("y_wg_dim"), e.constant(x)),
		spvasm.Def("yz_idx_component", spvasm.OpIAdd, uintType, spvasm.ID("y_idx_component"), spvasm.ID("z_idx_component")),
		spvasm.Def("workgroup_idx", spvasm.OpIAdd, uintType, spvasm.ID("yz_idx_component"), spvasm.ID("x_wg_dim")),
		spvasm.Def("workgroup_offset", spvasm.OpIMul, uintType, spvasm.ID("workgroup_idx"), e.constant(threads)),
		spvasm.Def(actorIdx, spvasm.OpIAdd, uintType, spvasm.ID("workgroup_offset"), localInvocationIdx),
	)
}

func startValue(c *counter) spvasm.ID { return spvasm.ID(c.indexName() + "_start") }

// loadStart reads the actor's first index into c from its index buffer.
func (e *emitter) loadStart(c *counter) []spvasm.Line {
	ptr := spvasm.ID(c.indexName() + "_start_ptr")
	return []spvasm.Line{
		spvasm.Def(ptr, spvasm.OpAccessChain, storageIntPtr, variable(c.indexName()), e.constant(0), actorIdx),
		spvasm.Def(startValue(c), spvasm.OpLoad, uintType, ptr),
	}
}

// writeBack stores every counter's final index into its index buffer.
func (e *emitter) writeBack(label string) []spvasm.Line {
	id := e.g.IDString(label)
	var lines []spvasm.Line
	for _, c := range e.l.counters() {
		pre, v := e.inst.final(e, label, c)
		lines = append(lines, pre...)
		ptr := spvasm.ID(c.indexName() + "_result_" + id)
		lines = append(lines,
			spvasm.Def(ptr, spvasm.OpAccessChain, storageIntPtr, variable(c.indexName()), e.constant(0), actorIdx),
			spvasm.Inst(spvasm.OpStore, ptr, v),
		)
	}
	return lines
}

func mergeLines(g *cfg.Graph, label string) []spvasm.Line {
	switch g.Kind(label) {
	case cfg.LoopHeader:
		m, _ := g.Merge(label)
		c, _ := g.Continue(label)
		return []spvasm.Line{spvasm.Inst(spvasm.OpLoopMerge, spvasm.ID(g.IDString(m)), spvasm.ID(g.IDString(c)), spvasm.Word("None"))}
	case cfg.SelectionHeader, cfg.SwitchBlock:
		m, _ := g.Merge(label)
		return []spvasm.Line{spvasm.Inst(spvasm.OpSelectionMerge, spvasm.ID(g.IDString(m)), spvasm.Word("None"))}
	}
	return nil
}

// terminator ends label. Instrumented conditional blocks branch on the
// direction loaded in their bookkeeping; others on constant true or zero.
func terminator(g *cfg.Graph, label string, instrumented bool) *spvasm.Instruction {
	succ := g.Successors(label)
	target := func(i int) spvasm.ID { return spvasm.ID(g.IDString(succ[i])) }
	id := g.IDString(label)
	switch {
	case len(succ) == 0:
		return spvasm.Inst(spvasm.OpReturn)
	case g.IsSwitch(label):
		var sel spvasm.Operand = zeroConst
		if instrumented {
			sel = temp(id, 5)
		}
		ops := []spvasm.Operand{sel, target(0)}
		for i := 1; i < len(succ); i++ {
			ops = append(ops, spvasm.Lit(i), target(i))
		}
		return spvasm.Inst(spvasm.OpSwitch, ops...)
	case len(succ) == 1:
		return spvasm.Inst(spvasm.OpBranch, target(0))
	default:
		var cond spvasm.Operand = trueConst
		if instrumented {
			cond = temp(id, 6)
		}
		return spvasm.Inst(spvasm.OpBranchConditional, cond, target(0), target(1))
	}
}

func (e *emitter) preamble() []spvasm.Line {
	bufs := e.l.buffers()
	var sizes []int
	for _, b := range bufs {
		if !slices.Contains(sizes, b.size) {
			sizes = append(sizes, b.size)
		}
	}
	slices.Sort(sizes)
	for _, n := range sizes {
		e.constant(uint32(n))
	}

	indent := func(text string) spvasm.Line { return spvasm.Comment{Text: text, Indent: true} }
	var lines []spvasm.Line
	add := func(ls ...spvasm.Line) { lines = append(lines, ls...) }
	note := func(text string) {
		if !e.opts.Concise {
			add(indent(text))
		}
	}

	add(
		spvasm.Inst(spvasm.OpCapability, spvasm.Word("Shader")),
		spvasm.Inst(spvasm.OpMemoryModel, spvasm.Word("Logical"), spvasm.Word("GLSL450")),
		spvasm.Inst(spvasm.OpEntryPoint, spvasm.Word("GLCompute"), mainFn, spvasm.Str("main"), localInvocationVar, workgroupIDVar),
		spvasm.Inst(spvasm.OpExecutionMode, mainFn, spvasm.Word("LocalSize"),
			spvasm.Lit(e.opts.ThreadsX), spvasm.Lit(e.opts.ThreadsY), spvasm.Lit(e.opts.ThreadsZ)),
		spvasm.Blank{},
	)
	note("Storage buffer types and variables.")
	for _, n := range sizes {
		add(
			spvasm.Inst(spvasm.OpDecorate, spvasm.ID(sizeType(n, "struct")), spvasm.Word("BufferBlock")),
			spvasm.Inst(spvasm.OpMemberDecorate, spvasm.ID(sizeType(n, "struct")), spvasm.Lit(0), spvasm.Word("Offset"), spvasm.Lit(0)),
			spvasm.Inst(spvasm.OpDecorate, spvasm.ID(sizeType(n, "array")), spvasm.Word("ArrayStride"), spvasm.Lit(4)),
		)
	}
	add(spvasm.Blank{})
	for _, b := range bufs {
		add(
			spvasm.Inst(spvasm.OpDecorate, variable(b.name), spvasm.Word("DescriptorSet"), spvasm.Lit(0)),
			spvasm.Inst(spvasm.OpDecorate, variable(b.name), spvasm.Word("Binding"), spvasm.Lit(b.binding)),
		)
	}
	add(
		spvasm.Blank{},
		spvasm.Inst(spvasm.OpDecorate, localInvocationVar, spvasm.Word("BuiltIn"), spvasm.Word("LocalInvocationIndex")),
		spvasm.Inst(spvasm.OpDecorate, workgroupIDVar, spvasm.Word("BuiltIn"), spvasm.Word("WorkgroupId")),
		spvasm.Blank{},
	)
	add(reservedTypes()...)
	add(spvasm.Blank{})

	values := make([]uint32, 0, len(e.constants))
	for v := range e.constants {
		values = append(values, v)
	}
	slices.Sort(values)
	for _, v := range values {
		add(spvasm.Def(e.constant(v), spvasm.OpConstant, uintType, spvasm.Lit(v)))
	}
	add(spvasm.Blank{})

	for _, n := range sizes {
		add(
			spvasm.Def(spvasm.ID(sizeType(n, "array")), spvasm.OpTypeArray, uintType, e.constant(uint32(n))),
			spvasm.Def(spvasm.ID(sizeType(n, "struct")), spvasm.OpTypeStruct, spvasm.ID(sizeType(n, "array"))),
			spvasm.Def(spvasm.ID(sizeType(n, "pointer")), spvasm.OpTypePointer, spvasm.Word("Uniform"), spvasm.ID(sizeType(n, "struct"))),
		)
	}
	add(spvasm.Blank{})
	for _, b := range bufs {
		add(spvasm.Def(variable(b.name), spvasm.OpVariable, spvasm.ID(sizeType(b.size, "pointer")), spvasm.Word("Uniform")))
	}
	add(spvasm.Blank{})
	note("Pointer type for declaring local variables of int type")
	add(spvasm.Def(localIntPtr, spvasm.OpTypePointer, spvasm.Word("Function"), uintType))
	note("Pointer type for integer data in a storage buffer")
	add(spvasm.Def(storageIntPtr, spvasm.OpTypePointer, spvasm.Word("Uniform"), uintType))
	add(
		spvasm.Blank{},
		spvasm.Def(inputIntPtr, spvasm.OpTypePointer, spvasm.Word("Input"), uintType),
		spvasm.Def(localInvocationVar, spvasm.OpVariable, inputIntPtr, spvasm.Word("Input")),
		spvasm.Def(vec3Input, spvasm.OpTypeVector, uintType, spvasm.Lit(3)),
		spvasm.Def(workgroupPtr, spvasm.OpTypePointer, spvasm.Word("Input"), vec3Input),
		spvasm.Def(workgroupIDVar, spvasm.OpVariable, workgroupPtr, spvasm.Word("Input")),
	)
	return lines
}

func reservedTypes() []spvasm.Line {
	return []spvasm.Line{
		spvasm.Def(voidType, spvasm.OpTypeVoid),
		spvasm.Def(mainFnType, spvasm.OpTypeFunction, voidType),
		spvasm.Def(boolType, spvasm.OpTypeBool),
		spvasm.Def(uintType, spvasm.OpTypeInt, spvasm.Lit(32), spvasm.Lit(0)),
		spvasm.Def(trueConst, spvasm.OpConstantTrue, boolType),
		spvasm.Def(zeroConst, spvasm.OpConstant, uintType, spvasm.Lit(0)),
	}
}

// describe renders the header comment: the seed, every distinct path with
// conditional blocks as <n>, barrier blocks as b(n) and switch edges, and the
// set of conditional blocks.
func (e *emitter) describe() []spvasm.Line {
	followers := make([]int, len(e.set.Distinct))
	for _, d := range e.set.Actors {
		followers[d]++
	}
	c := func(text string) spvasm.Line { return spvasm.Comment{Text: text} }
	lines := []spvasm.Line{
		c(fmt.Sprintf("Generated with the seed %d for %d actors following %d distinct paths.", e.opts.Seed, len(e.set.Actors), len(e.set.Distinct))),
		c(""),
	}
	for i, p := range e.set.Distinct {
		lines = append(lines,
			c(fmt.Sprintf("Follow the path %d (length %d, %d actors):", i, p.Len(), followers[i])),
			c(e.pathString(p)),
			c(""),
		)
	}
	ids := make([]string, len(e.l.conditionals))
	for i, b := range e.l.conditionals {
		ids[i] = e.g.IDString(b)
	}
	lines = append(lines,
		c(fmt.Sprintf("%d CFG nodes have OpBranchConditional or OpSwitch as their terminators (denoted <n>): %s.", len(ids), joinAnd(ids, " and "))),
		c(fmt.Sprintf("The shader reads a directions buffer for each of %s and records the executed blocks in the output buffer.", joinAnd(ids, " or "))),
		spvasm.Blank{},
	)
	return lines
}

func joinAnd(ids []string, last string) string {
	switch len(ids) {
	case 0:
		return "none"
	case 1:
		return ids[0]
	}
	return strings.Join(ids[:len(ids)-1], ", ") + last + ids[len(ids)-1]
}

func (e *emitter) pathString(p Path) string {
	var b strings.Builder
	for i, s := range p.Steps {
		tok := e.g.IDString(s.Block)
		if i == len(p.Steps)-1 {
			b.WriteString(tok)
			break
		}
		if e.g.IsConditional(s.Block) {
			tok = "<" + tok + ">"
		}
		if e.set.IsBarrier(s.Block) {
			tok = "b(" + tok + ")"
		}
		b.WriteString(tok)
		b.WriteString(" -> ")
		if e.g.IsSwitch(s.Block) {
			fmt.Fprintf(&b, "edge_%d -> ", s.Edge)
		}
	}
	return b.String()
}
