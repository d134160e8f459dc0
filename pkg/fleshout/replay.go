package fleshout

import (
	"fmt"

	"fleshout/pkg/spvasm"
)

// maxReplaySteps bounds the instructions one actor may execute.
const maxReplaySteps = 1 << 24

// MismatchError reports the first element where a replayed buffer differs
// from the harness expectation.
type MismatchError struct {
	Buffer string
	Index  int
	Want   uint32
	Got    uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("buffer %s[%d]: expected %d, got %d", e.Buffer, e.Index, e.Want, e.Got)
}

type valueKind int

const (
	kindUint valueKind = iota
	kindBool
	kindPtr
)

// pointer addresses a storage buffer element, a function-local variable or a
// built-in input. index is -1 for a whole buffer or vector.
type pointer struct {
	buffer  string
	local   spvasm.ID
	builtin string
	index   int
}

type value struct {
	kind valueKind
	u    uint32
	b    bool
	p    pointer
}

// machine interprets the subset of SPIR-V that the emitter produces.
type machine struct {
	insts  []*spvasm.Instruction
	labels map[spvasm.ID]int
	start  int
	global map[spvasm.ID]value
	mem    map[string][]uint32

	groups  [3]uint32
	threads uint32
}

func newMachine(prog *Program) (*machine, error) {
	m := &machine{
		insts:  prog.Module.Instructions(),
		labels: make(map[spvasm.ID]int),
		start:  -1,
		global: make(map[spvasm.ID]value),
		mem:    make(map[string][]uint32),
		groups: [3]uint32{
			uint32(prog.Script.Groups[0]), uint32(prog.Script.Groups[1]), uint32(prog.Script.Groups[2]),
		},
	}
	for _, b := range prog.Script.Buffers {
		m.mem[b.Name] = b.Initial()
	}

	type slot struct{ set, binding int }
	slots := make(map[spvasm.ID]slot)
	var localSize []uint32
	for i, in := range m.insts {
		switch in.Op {
		case spvasm.OpDecorate:
			target, _ := in.Operands[0].(spvasm.ID)
			word, _ := in.Operands[1].(spvasm.Word)
			switch word {
			case "Binding", "DescriptorSet":
				n, ok := in.Operands[2].(spvasm.Lit)
				if !ok {
					return nil, fmt.Errorf("replay: %s decoration of %%%s without a literal", word, target)
				}
				s := slots[target]
				if word == "Binding" {
					s.binding = int(n)
				} else {
					s.set = int(n)
				}
				slots[target] = s
			case "BuiltIn":
				kind, _ := in.Operands[2].(spvasm.Word)
				m.global[target] = value{kind: kindPtr, p: pointer{builtin: string(kind), index: -1}}
			}
		case spvasm.OpExecutionMode:
			for _, o := range in.Operands[2:] {
				if l, ok := o.(spvasm.Lit); ok {
					localSize = append(localSize, uint32(l))
				}
			}
		case spvasm.OpConstant:
			if l, ok := in.Operands[1].(spvasm.Lit); ok {
				m.global[in.Result] = value{kind: kindUint, u: uint32(l)}
			}
		case spvasm.OpConstantTrue:
			m.global[in.Result] = value{kind: kindBool, b: true}
		case spvasm.OpLabel:
			m.labels[in.Result] = i
			if m.start < 0 {
				m.start = i
			}
		}
	}
	if m.start < 0 {
		return nil, fmt.Errorf("replay: module has no blocks")
	}
	if len(localSize) != 3 {
		return nil, fmt.Errorf("replay: module has no LocalSize execution mode")
	}
	m.threads = localSize[0] * localSize[1] * localSize[2]

	bound := make(map[slot]string, len(prog.Script.Buffers))
	for _, b := range prog.Script.Buffers {
		if bd, ok := prog.Script.BindingOf(b.Name); ok {
			bound[slot{bd.DescriptorSet, bd.Binding}] = b.Name
		}
	}
	for target, s := range slots {
		name, ok := bound[s]
		if !ok {
			return nil, fmt.Errorf("replay: no buffer bound to descriptor set %d binding %d", s.set, s.binding)
		}
		m.global[target] = value{kind: kindPtr, p: pointer{buffer: name, index: -1}}
	}
	return m, nil
}

// actor is the state of one invocation.
type actor struct {
	m      *machine
	vals   map[spvasm.ID]value
	locals map[spvasm.ID]uint32
	local  uint32
	group  [3]uint32
}

func (a *actor) get(o spvasm.Operand) (value, error) {
	id, ok := o.(spvasm.ID)
	if !ok {
		return value{}, fmt.Errorf("operand %v is not an id", o)
	}
	if v, ok := a.vals[id]; ok {
		return v, nil
	}
	if v, ok := a.m.global[id]; ok {
		return v, nil
	}
	return value{}, fmt.Errorf("%%%s has no value", id)
}

func (a *actor) u32(o spvasm.Operand) (uint32, error) {
	v, err := a.get(o)
	if err != nil {
		return 0, err
	}
	if v.kind != kindUint {
		return 0, fmt.Errorf("%v is not an integer", o)
	}
	return v.u, nil
}

func (a *actor) ptr(o spvasm.Operand) (pointer, error) {
	v, err := a.get(o)
	if err != nil {
		return pointer{}, err
	}
	if v.kind != kindPtr {
		return pointer{}, fmt.Errorf("%v is not a pointer", o)
	}
	return v.p, nil
}

func (a *actor) load(p pointer) (uint32, error) {
	switch {
	case p.local != "":
		return a.locals[p.local], nil
	case p.builtin == "LocalInvocationIndex":
		return a.local, nil
	case p.builtin == "WorkgroupId" && p.index >= 0 && p.index < 3:
		return a.group[p.index], nil
	case p.buffer != "" && p.index >= 0:
		buf := a.m.mem[p.buffer]
		if p.index >= len(buf) {
			return 0, fmt.Errorf("load from %s[%d] out of bounds", p.buffer, p.index)
		}
		return buf[p.index], nil
	}
	return 0, fmt.Errorf("cannot load through %+v", p)
}

func (a *actor) store(p pointer, v uint32) error {
	switch {
	case p.local != "":
		a.locals[p.local] = v
		return nil
	case p.buffer != "" && p.index >= 0:
		buf := a.m.mem[p.buffer]
		if p.index >= len(buf) {
			return fmt.Errorf("store to %s[%d] out of bounds", p.buffer, p.index)
		}
		buf[p.index] = v
		return nil
	}
	return fmt.Errorf("cannot store through %+v", p)
}

func (a *actor) accessChain(in *spvasm.Instruction) (pointer, error) {
	base, err := a.ptr(in.Operands[1])
	if err != nil {
		return pointer{}, err
	}
	var idx []uint32
	for _, o := range in.Operands[2:] {
		v, err := a.u32(o)
		if err != nil {
			return pointer{}, err
		}
		idx = append(idx, v)
	}
	switch {
	case base.buffer != "" && base.index < 0 && len(idx) == 2 && idx[0] == 0:
		return pointer{buffer: base.buffer, index: int(idx[1])}, nil
	case base.builtin == "WorkgroupId" && base.index < 0 && len(idx) == 1:
		return pointer{builtin: base.builtin, index: int(idx[0])}, nil
	}
	return pointer{}, fmt.Errorf("unsupported access chain into %+v", base)
}

// enter moves control to the block labelled target, coming from prev, and
// evaluates its phis as one parallel assignment.
func (a *actor) enter(target, prev spvasm.ID) (int, error) {
	pc, ok := a.m.labels[target]
	if !ok {
		return 0, fmt.Errorf("branch to unknown block %%%s", target)
	}
	pc++
	pending := make(map[spvasm.ID]value)
	for ; pc < len(a.m.insts) && a.m.insts[pc].Op == spvasm.OpPhi; pc++ {
		in := a.m.insts[pc]
		found := false
		for i := 1; i+1 < len(in.Operands); i += 2 {
			if in.Operands[i+1] == spvasm.Operand(prev) {
				v, err := a.get(in.Operands[i])
				if err != nil {
					return 0, err
				}
				pending[in.Result] = v
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("phi %%%s has no value for predecessor %%%s", in.Result, prev)
		}
	}
	for id, v := range pending {
		a.vals[id] = v
	}
	return pc, nil
}

func (a *actor) run() error {
	insts := a.m.insts
	block := insts[a.m.start].Result
	pc := a.m.start + 1
	jump := func(target spvasm.Operand) error {
		id, ok := target.(spvasm.ID)
		if !ok {
			return fmt.Errorf("branch target %v is not an id", target)
		}
		next, err := a.enter(id, block)
		if err != nil {
			return err
		}
		block, pc = id, next
		return nil
	}
	for steps := 0; ; steps++ {
		if steps >= maxReplaySteps {
			return fmt.Errorf("no return after %d instructions", maxReplaySteps)
		}
		if pc >= len(insts) {
			return fmt.Errorf("control ran off the end of the function")
		}
		in := insts[pc]
		pc++
		switch in.Op {
		case spvasm.OpVariable:
			var init uint32
			if len(in.Operands) == 3 {
				v, err := a.u32(in.Operands[2])
				if err != nil {
					return err
				}
				init = v
			}
			a.locals[in.Result] = init
			a.vals[in.Result] = value{kind: kindPtr, p: pointer{local: in.Result, index: -1}}
		case spvasm.OpLoad:
			p, err := a.ptr(in.Operands[1])
			if err != nil {
				return err
			}
			v, err := a.load(p)
			if err != nil {
				return err
			}
			a.vals[in.Result] = value{kind: kindUint, u: v}
		case spvasm.OpStore:
			p, err := a.ptr(in.Operands[0])
			if err != nil {
				return err
			}
			v, err := a.u32(in.Operands[1])
			if err != nil {
				return err
			}
			if err := a.store(p, v); err != nil {
				return err
			}
		case spvasm.OpAccessChain:
			p, err := a.accessChain(in)
			if err != nil {
				return err
			}
			a.vals[in.Result] = value{kind: kindPtr, p: p}
		case spvasm.OpIAdd, spvasm.OpIMul, spvasm.OpIEqual:
			x, err := a.u32(in.Operands[1])
			if err != nil {
				return err
			}
			y, err := a.u32(in.Operands[2])
			if err != nil {
				return err
			}
			switch in.Op {
			case spvasm.OpIAdd:
				a.vals[in.Result] = value{kind: kindUint, u: x + y}
			case spvasm.OpIMul:
				a.vals[in.Result] = value{kind: kindUint, u: x * y}
			default:
				a.vals[in.Result] = value{kind: kindBool, b: x == y}
			}
		case spvasm.OpLoopMerge, spvasm.OpSelectionMerge, spvasm.OpControlBarrier, spvasm.OpNop:
			// Actors write disjoint buffer regions, so running them one after
			// another observes the same results as any barrier schedule.
		case spvasm.OpBranch:
			if err := jump(in.Operands[0]); err != nil {
				return err
			}
		case spvasm.OpBranchConditional:
			c, err := a.get(in.Operands[0])
			if err != nil {
				return err
			}
			if c.kind != kindBool {
				return fmt.Errorf("branch condition %v is not a bool", in.Operands[0])
			}
			target := in.Operands[2]
			if c.b {
				target = in.Operands[1]
			}
			if err := jump(target); err != nil {
				return err
			}
		case spvasm.OpSwitch:
			sel, err := a.u32(in.Operands[0])
			if err != nil {
				return err
			}
			target := in.Operands[1]
			for i := 2; i+1 < len(in.Operands); i += 2 {
				if lit, ok := in.Operands[i].(spvasm.Lit); ok && uint32(lit) == sel {
					target = in.Operands[i+1]
					break
				}
			}
			if err := jump(target); err != nil {
				return err
			}
		case spvasm.OpReturn:
			return nil
		default:
			return fmt.Errorf("cannot replay %s", in.Op)
		}
	}
}

// Replay runs the shader of prog abstractly, once per actor in actor-index
// order, over the initial harness buffers and returns their final contents.
func Replay(prog *Program) (map[string][]uint32, error) {
	m, err := newMachine(prog)
	if err != nil {
		return nil, err
	}
	for z := uint32(0); z < m.groups[2]; z++ {
		for y := uint32(0); y < m.groups[1]; y++ {
			for x := uint32(0); x < m.groups[0]; x++ {
				for local := uint32(0); local < m.threads; local++ {
					a := &actor{
						m:      m,
						vals:   make(map[spvasm.ID]value),
						locals: make(map[spvasm.ID]uint32),
						local:  local,
						group:  [3]uint32{x, y, z},
					}
					if err := a.run(); err != nil {
						return nil, fmt.Errorf("replay: workgroup (%d,%d,%d) invocation %d: %w", x, y, z, local, err)
					}
				}
			}
		}
	}
	return m.mem, nil
}

// Verify replays prog and checks every EXPECT of its harness.
func Verify(prog *Program) error {
	got, err := Replay(prog)
	if err != nil {
		return err
	}
	for _, e := range prog.Script.Expects {
		buf, ok := got[e.Buffer]
		if !ok {
			return fmt.Errorf("verify: no buffer %s", e.Buffer)
		}
		for i, want := range e.Values {
			j := e.Offset + i
			if j >= len(buf) {
				return fmt.Errorf("verify: %s has %d elements, expected at least %d", e.Buffer, len(buf), j+1)
			}
			if buf[j] != want {
				return &MismatchError{Buffer: e.Buffer, Index: j, Want: want, Got: buf[j]}
			}
		}
	}
	return nil
}
