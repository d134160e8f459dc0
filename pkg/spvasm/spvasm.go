// Package spvasm is a small typed model of SPIR-V assembly text. Instructions
// carry an opcode and typed operands; text is produced only by String.
package spvasm

import (
	"fmt"
	"strconv"
	"strings"
)

type Opcode int

const (
	OpNop Opcode = iota
	OpCapability
	OpMemoryModel
	OpEntryPoint
	OpExecutionMode
	OpDecorate
	OpMemberDecorate
	OpTypeVoid
	OpTypeBool
	OpTypeInt
	OpTypeVector
	OpTypeArray
	OpTypeStruct
	OpTypePointer
	OpTypeFunction
	OpConstantTrue
	OpConstant
	OpVariable
	OpFunction
	OpFunctionEnd
	OpLabel
	OpLoad
	OpStore
	OpAccessChain
	OpIAdd
	OpIMul
	OpIEqual
	OpPhi
	OpLoopMerge
	OpSelectionMerge
	OpBranch
	OpBranchConditional
	OpSwitch
	OpReturn
	OpControlBarrier
)

// shape describes the form every instance of an opcode must have.
type shape struct {
	name   string
	result bool
	min    int
	max    int // -1: unbounded
	term   bool
}

var shapes = map[Opcode]shape{
	OpNop:               {name: "OpNop"},
	OpCapability:        {name: "OpCapability", min: 1, max: 1},
	OpMemoryModel:       {name: "OpMemoryModel", min: 2, max: 2},
	OpEntryPoint:        {name: "OpEntryPoint", min: 3, max: -1},
	OpExecutionMode:     {name: "OpExecutionMode", min: 2, max: -1},
	OpDecorate:          {name: "OpDecorate", min: 2, max: -1},
	OpMemberDecorate:    {name: "OpMemberDecorate", min: 3, max: -1},
	OpTypeVoid:          {name: "OpTypeVoid", result: true},
	OpTypeBool:          {name: "OpTypeBool", result: true},
	OpTypeInt:           {name: "OpTypeInt", result: true, min: 2, max: 2},
	OpTypeVector:        {name: "OpTypeVector", result: true, min: 2, max: 2},
	OpTypeArray:         {name: "OpTypeArray", result: true, min: 2, max: 2},
	OpTypeStruct:        {name: "OpTypeStruct", result: true, min: 0, max: -1},
	OpTypePointer:       {name: "OpTypePointer", result: true, min: 2, max: 2},
	OpTypeFunction:      {name: "OpTypeFunction", result: true, min: 1, max: -1},
	OpConstantTrue:      {name: "OpConstantTrue", result: true, min: 1, max: 1},
	OpConstant:          {name: "OpConstant", result: true, min: 2, max: 2},
	OpVariable:          {name: "OpVariable", result: true, min: 2, max: 3},
	OpFunction:          {name: "OpFunction", result: true, min: 3, max: 3},
	OpFunctionEnd:       {name: "OpFunctionEnd"},
	OpLabel:             {name: "OpLabel", result: true},
	OpLoad:              {name: "OpLoad", result: true, min: 2, max: 2},
	OpStore:             {name: "OpStore", min: 2, max: 2},
	OpAccessChain:       {name: "OpAccessChain", result: true, min: 2, max: -1},
	OpIAdd:              {name: "OpIAdd", result: true, min: 3, max: 3},
	OpIMul:              {name: "OpIMul", result: true, min: 3, max: 3},
	OpIEqual:            {name: "OpIEqual", result: true, min: 3, max: 3},
	OpPhi:               {name: "OpPhi", result: true, min: 3, max: -1},
	OpLoopMerge:         {name: "OpLoopMerge", min: 3, max: 3},
	OpSelectionMerge:    {name: "OpSelectionMerge", min: 2, max: 2},
	OpBranch:            {name: "OpBranch", min: 1, max: 1, term: true},
	OpBranchConditional: {name: "OpBranchConditional", min: 3, max: 3, term: true},
	OpSwitch:            {name: "OpSwitch", min: 2, max: -1, term: true},
	OpReturn:            {name: "OpReturn", term: true},
	OpControlBarrier:    {name: "OpControlBarrier", min: 3, max: 3},
}

func (o Opcode) String() string {
	if s, ok := shapes[o]; ok {
		return s.name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// IsTerminator reports whether o ends a block.
func (o Opcode) IsTerminator() bool { return shapes[o].term }

// Operand is one of ID, Lit, Str or Word.
type Operand interface {
	operandNode()
	fmtString() string
}

// ID refers to a result id; it formats as %name.
type ID string

func (ID) operandNode()         {}
func (i ID) fmtString() string { return "%" + string(i) }

// Lit is an unsigned literal number.
type Lit uint32

func (Lit) operandNode()         {}
func (l Lit) fmtString() string { return strconv.FormatUint(uint64(l), 10) }

// Str is a quoted literal string.
type Str string

func (Str) operandNode()         {}
func (s Str) fmtString() string { return strconv.Quote(string(s)) }

// Word is an enumerant such as Shader, None or Uniform.
type Word string

func (Word) operandNode()         {}
func (w Word) fmtString() string { return string(w) }

// Line is an element of a module listing.
type Line interface {
	lineNode()
	fmtString() string
}

type Instruction struct {
	Result   ID
	Op       Opcode
	Operands []Operand
	Comment  string
}

func (*Instruction) lineNode() {}

// Inst builds an instruction without a result id.
func Inst(op Opcode, operands ...Operand) *Instruction {
	return &Instruction{Op: op, Operands: operands}
}

// Def builds an instruction defining result.
func Def(result ID, op Opcode, operands ...Operand) *Instruction {
	return &Instruction{Result: result, Op: op, Operands: operands}
}

// WithComment attaches a trailing comment and returns the instruction.
func (in *Instruction) WithComment(c string) *Instruction {
	in.Comment = c
	return in
}

// resultColumn is the column at which instruction opcodes start; result ids
// are right-aligned before it.
const resultColumn = 15

func (in *Instruction) fmtString() string {
	var b strings.Builder
	if in.Result != "" {
		lhs := in.Result.fmtString() + " = "
		if pad := resultColumn - len(lhs); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(lhs)
	} else {
		b.WriteString(strings.Repeat(" ", resultColumn))
	}
	b.WriteString(in.Op.String())
	for _, o := range in.Operands {
		b.WriteByte(' ')
		b.WriteString(o.fmtString())
	}
	if in.Comment != "" {
		b.WriteString(" ; ")
		b.WriteString(in.Comment)
	}
	return b.String()
}

// Comment is a full-line comment. Indented comments start at the opcode column.
type Comment struct {
	Text   string
	Indent bool
}

func (Comment) lineNode() {}
func (c Comment) fmtString() string {
	prefix := ""
	if c.Indent {
		prefix = strings.Repeat(" ", resultColumn)
	}
	if c.Text == "" {
		return prefix + ";"
	}
	return prefix + "; " + c.Text
}

type Blank struct{}

func (Blank) lineNode()         {}
func (Blank) fmtString() string { return "" }

type Module struct {
	Lines []Line
}

func (m *Module) Add(lines ...Line) { m.Lines = append(m.Lines, lines...) }

// Instructions returns the instruction lines in order.
func (m *Module) Instructions() []*Instruction {
	var out []*Instruction
	for _, l := range m.Lines {
		if in, ok := l.(*Instruction); ok {
			out = append(out, in)
		}
	}
	return out
}

func (m *Module) String() string {
	var b strings.Builder
	for i, l := range m.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.fmtString())
	}
	return b.String()
}
