// Package amber models the Amber test scripts that wrap a SPIR-V assembly
// compute shader: buffer declarations, a pipeline with its bindings, one RUN
// and the EXPECT assertions checked after it.
package amber

import (
	"fmt"
	"strconv"
	"strings"
)

// Buffer is a uint32 storage buffer. When Data is nil the buffer is declared
// with SIZE Size FILL Fill.
type Buffer struct {
	Name string
	Data []uint32
	Size int
	Fill uint32
}

// Initial returns the contents the buffer has before the pipeline runs.
func (b Buffer) Initial() []uint32 {
	if b.Data != nil {
		return append([]uint32(nil), b.Data...)
	}
	out := make([]uint32, b.Size)
	for i := range out {
		out[i] = b.Fill
	}
	return out
}

// Len is the number of elements in the buffer.
func (b Buffer) Len() int {
	if b.Data != nil {
		return len(b.Data)
	}
	return b.Size
}

type Binding struct {
	Buffer        string
	DescriptorSet int
	Binding       int
}

// Expect asserts that Buffer holds Values starting at index Offset.
type Expect struct {
	Buffer string
	Offset int
	Values []uint32
}

type Script struct {
	ShaderName   string
	Shader       string
	Buffers      []Buffer
	PipelineName string
	Bindings     []Binding
	Groups       [3]int
	Expects      []Expect
}

// Buffer returns the declared buffer with the given name.
func (s *Script) Buffer(name string) (Buffer, bool) {
	for _, b := range s.Buffers {
		if b.Name == name {
			return b, true
		}
	}
	return Buffer{}, false
}

// BindingOf returns the binding declared for the named buffer.
func (s *Script) BindingOf(name string) (Binding, bool) {
	for _, b := range s.Bindings {
		if b.Buffer == name {
			return b, true
		}
	}
	return Binding{}, false
}

// Validate checks that every binding and expectation refers to a declared
// buffer, that no two bindings share a slot and that expectations fit.
func (s *Script) Validate() error {
	if s.ShaderName == "" || s.PipelineName == "" {
		return fmt.Errorf("amber: shader and pipeline must be named")
	}
	names := make(map[string]Buffer, len(s.Buffers))
	for _, b := range s.Buffers {
		if _, dup := names[b.Name]; dup {
			return fmt.Errorf("amber: buffer %s declared twice", b.Name)
		}
		names[b.Name] = b
	}
	slots := make(map[[2]int]string, len(s.Bindings))
	for _, bd := range s.Bindings {
		if _, ok := names[bd.Buffer]; !ok {
			return fmt.Errorf("amber: binding of undeclared buffer %s", bd.Buffer)
		}
		slot := [2]int{bd.DescriptorSet, bd.Binding}
		if other, taken := slots[slot]; taken {
			return fmt.Errorf("amber: buffers %s and %s share descriptor set %d binding %d", other, bd.Buffer, bd.DescriptorSet, bd.Binding)
		}
		slots[slot] = bd.Buffer
	}
	for _, g := range s.Groups {
		if g < 1 {
			return fmt.Errorf("amber: workgroup counts must be positive, got %v", s.Groups)
		}
	}
	for _, e := range s.Expects {
		b, ok := names[e.Buffer]
		if !ok {
			return fmt.Errorf("amber: expectation on undeclared buffer %s", e.Buffer)
		}
		if e.Offset+len(e.Values) > b.Len() {
			return fmt.Errorf("amber: expectation on %s overruns its %d elements", e.Buffer, b.Len())
		}
	}
	return nil
}

func writeUints(b *strings.Builder, vs []uint32) {
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
}

func (s *Script) String() string {
	var b strings.Builder
	b.WriteString("#!amber\n\n")
	fmt.Fprintf(&b, "SHADER compute %s SPIRV-ASM\n", s.ShaderName)
	b.WriteString(s.Shader)
	if !strings.HasSuffix(s.Shader, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("END\n\n")

	for _, buf := range s.Buffers {
		if buf.Data != nil {
			fmt.Fprintf(&b, "BUFFER %s DATA_TYPE uint32 STD430 DATA ", buf.Name)
			writeUints(&b, buf.Data)
			b.WriteString(" END\n")
			continue
		}
		fmt.Fprintf(&b, "BUFFER %s DATA_TYPE uint32 STD430 SIZE %d FILL %d\n", buf.Name, buf.Size, buf.Fill)
	}

	fmt.Fprintf(&b, "\nPIPELINE compute %s\n", s.PipelineName)
	fmt.Fprintf(&b, "  ATTACH %s\n", s.ShaderName)
	for _, bd := range s.Bindings {
		fmt.Fprintf(&b, "  BIND BUFFER %s AS storage DESCRIPTOR_SET %d BINDING %d\n", bd.Buffer, bd.DescriptorSet, bd.Binding)
	}
	b.WriteString("END\n\n")

	fmt.Fprintf(&b, "RUN %s %d %d %d\n\n", s.PipelineName, s.Groups[0], s.Groups[1], s.Groups[2])

	for _, e := range s.Expects {
		fmt.Fprintf(&b, "EXPECT %s IDX %d EQ ", e.Buffer, e.Offset)
		writeUints(&b, e.Values)
		b.WriteByte('\n')
	}
	return b.String()
}
