package spvasm

import "fmt"

// Error locates a structural problem at the n-th instruction of a module.
type Error struct {
	Index int
	Inst  string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("instruction %d (%s): %s", e.Index, e.Inst, e.Msg)
}

// Validate checks operand arity, result ids, that every referenced id is
// defined somewhere in the module, and the block layout of function bodies:
// phis first, a merge declaration only right before the terminator, and
// exactly one terminator closing each block.
func (m *Module) Validate() error {
	insts := m.Instructions()
	defined := make(map[ID]int, len(insts))
	for i, in := range insts {
		s, ok := shapes[in.Op]
		if !ok {
			return &Error{Index: i, Inst: in.Op.String(), Msg: "unknown opcode"}
		}
		fail := func(format string, args ...any) error {
			return &Error{Index: i, Inst: in.Op.String(), Msg: fmt.Sprintf(format, args...)}
		}
		if s.result && in.Result == "" {
			return fail("missing result id")
		}
		if !s.result && in.Result != "" {
			return fail("unexpected result id %%%s", in.Result)
		}
		if len(in.Operands) < s.min || (s.max >= 0 && len(in.Operands) > s.max) {
			return fail("%d operands, want %d..%d", len(in.Operands), s.min, s.max)
		}
		if in.Result != "" {
			if prev, dup := defined[in.Result]; dup {
				return fail("result %%%s already defined by instruction %d", in.Result, prev)
			}
			defined[in.Result] = i
		}
	}
	for i, in := range insts {
		for _, o := range in.Operands {
			if id, ok := o.(ID); ok {
				if _, found := defined[id]; !found {
					return &Error{Index: i, Inst: in.Op.String(), Msg: fmt.Sprintf("undefined id %%%s", id)}
				}
			}
		}
	}
	return validateBlocks(insts)
}

func validateBlocks(insts []*Instruction) error {
	inFunction := false
	inBlock := false
	sawBody := false
	for i, in := range insts {
		fail := func(msg string) error {
			return &Error{Index: i, Inst: in.Op.String(), Msg: msg}
		}
		switch {
		case in.Op == OpFunction:
			inFunction = true
		case in.Op == OpFunctionEnd:
			if inBlock {
				return fail("function ends inside an unterminated block")
			}
			inFunction = false
		case !inFunction:
			if in.Op == OpLabel || in.Op.IsTerminator() || in.Op == OpPhi {
				return fail("outside of a function")
			}
		case in.Op == OpLabel:
			if inBlock {
				return fail("label inside an unterminated block")
			}
			inBlock = true
			sawBody = false
		case !inBlock:
			return fail("instruction between blocks")
		case in.Op == OpPhi:
			if sawBody {
				return fail("phi after non-phi instruction")
			}
		case in.Op == OpLoopMerge || in.Op == OpSelectionMerge:
			if i+1 >= len(insts) || !insts[i+1].Op.IsTerminator() {
				return fail("merge declaration not followed by a terminator")
			}
			sawBody = true
		case in.Op.IsTerminator():
			inBlock = false
		default:
			sawBody = true
		}
	}
	return nil
}
