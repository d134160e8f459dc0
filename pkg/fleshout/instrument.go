package fleshout

import (
	"fleshout/pkg/spvasm"
)

// memoryInstrumentation keeps each index in a function-local variable that
// bookkeeping loads and stores.
type memoryInstrumentation struct{}

func localIndex(c *counter) spvasm.ID { return spvasm.ID(c.indexName()) }

func (memoryInstrumentation) declare(e *emitter) []spvasm.Line {
	var lines []spvasm.Line
	for _, c := range e.l.counters() {
		lines = append(lines, spvasm.Def(localIndex(c), spvasm.OpVariable, localIntPtr, spvasm.Word("Function"), e.constant(0)))
	}
	return lines
}

func (memoryInstrumentation) start(e *emitter, c *counter) []spvasm.Line {
	return []spvasm.Line{spvasm.Inst(spvasm.OpStore, localIndex(c), startValue(c))}
}

func (memoryInstrumentation) phis(*emitter, string) []spvasm.Line { return nil }

func (memoryInstrumentation) bookkeeping(e *emitter, label string) []spvasm.Line {
	id := e.g.IDString(label)
	out := localIndex(e.l.output)
	lines := []spvasm.Line{
		spvasm.Def(temp(id, 0), spvasm.OpLoad, uintType, out),
		spvasm.Def(temp(id, 1), spvasm.OpAccessChain, storageIntPtr, variable(outputBuffer), e.constant(0), temp(id, 0)),
		spvasm.Inst(spvasm.OpStore, temp(id, 1), e.constant(uint32(e.g.BlockID(label)))),
		spvasm.Def(temp(id, 2), spvasm.OpIAdd, uintType, temp(id, 0), e.constant(e.outputIncrement(label))),
		spvasm.Inst(spvasm.OpStore, out, temp(id, 2)),
	}
	c := e.l.directions[label]
	if c == nil {
		return lines
	}
	idx := localIndex(c)
	lines = append(lines,
		spvasm.Def(temp(id, 3), spvasm.OpLoad, uintType, idx),
		spvasm.Def(temp(id, 4), spvasm.OpAccessChain, storageIntPtr, variable(c.name), e.constant(0), temp(id, 3)),
		spvasm.Def(temp(id, 5), spvasm.OpLoad, uintType, temp(id, 4)),
	)
	if !e.g.IsSwitch(label) {
		lines = append(lines, spvasm.Def(temp(id, 6), spvasm.OpIEqual, boolType, temp(id, 5), e.constant(1)))
	}
	return append(lines,
		spvasm.Def(temp(id, 7), spvasm.OpIAdd, uintType, temp(id, 3), e.constant(1)),
		spvasm.Inst(spvasm.OpStore, idx, temp(id, 7)),
	)
}

func (memoryInstrumentation) final(e *emitter, label string, c *counter) ([]spvasm.Line, spvasm.Operand) {
	v := spvasm.ID(c.indexName() + "_final_" + e.g.IDString(label))
	return []spvasm.Line{spvasm.Def(v, spvasm.OpLoad, uintType, localIndex(c))}, v
}

// phiInstrumentation passes each index from block to block as an SSA value:
// every block with predecessors merges the indices with one OpPhi per
// counter.
type phiInstrumentation struct{}

func phiValue(e *emitter, c *counter, label string) spvasm.ID {
	return spvasm.ID(c.indexName() + "_" + e.g.IDString(label))
}

// in is the value of c on entry to label.
func (phiInstrumentation) in(e *emitter, label string, c *counter) spvasm.Operand {
	switch {
	case label == e.g.Entry():
		return startValue(c)
	case len(e.g.Predecessors(label)) == 0:
		return e.constant(0)
	}
	return phiValue(e, c, label)
}

// out is the value of c when control leaves label.
func (p phiInstrumentation) out(e *emitter, label string, c *counter) spvasm.Operand {
	if e.l.touched[label] {
		id := e.g.IDString(label)
		if c.block == "" {
			return temp(id, 2)
		}
		if c.block == label {
			return temp(id, 7)
		}
	}
	return p.in(e, label, c)
}

func (phiInstrumentation) declare(*emitter) []spvasm.Line { return nil }

func (phiInstrumentation) start(*emitter, *counter) []spvasm.Line { return nil }

func (p phiInstrumentation) phis(e *emitter, label string) []spvasm.Line {
	preds := e.g.Predecessors(label)
	if len(preds) == 0 {
		return nil
	}
	var lines []spvasm.Line
	for _, c := range e.l.counters() {
		ops := []spvasm.Operand{uintType}
		for _, pr := range preds {
			ops = append(ops, p.out(e, pr, c), spvasm.ID(e.g.IDString(pr)))
		}
		lines = append(lines, spvasm.Def(phiValue(e, c, label), spvasm.OpPhi, ops...))
	}
	return lines
}

func (p phiInstrumentation) bookkeeping(e *emitter, label string) []spvasm.Line {
	id := e.g.IDString(label)
	outIn := p.in(e, label, e.l.output)
	lines := []spvasm.Line{
		spvasm.Def(temp(id, 1), spvasm.OpAccessChain, storageIntPtr, variable(outputBuffer), e.constant(0), outIn),
		spvasm.Inst(spvasm.OpStore, temp(id, 1), e.constant(uint32(e.g.BlockID(label)))),
		spvasm.Def(temp(id, 2), spvasm.OpIAdd, uintType, outIn, e.constant(e.outputIncrement(label))),
	}
	c := e.l.directions[label]
	if c == nil {
		return lines
	}
	dirIn := p.in(e, label, c)
	lines = append(lines,
		spvasm.Def(temp(id, 4), spvasm.OpAccessChain, storageIntPtr, variable(c.name), e.constant(0), dirIn),
		spvasm.Def(temp(id, 5), spvasm.OpLoad, uintType, temp(id, 4)),
	)
	if !e.g.IsSwitch(label) {
		lines = append(lines, spvasm.Def(temp(id, 6), spvasm.OpIEqual, boolType, temp(id, 5), e.constant(1)))
	}
	return append(lines, spvasm.Def(temp(id, 7), spvasm.OpIAdd, uintType, dirIn, e.constant(1)))
}

func (p phiInstrumentation) final(e *emitter, label string, c *counter) ([]spvasm.Line, spvasm.Operand) {
	return nil, p.out(e, label, c)
}
