package fleshout

import (
	"fleshout/pkg/amber"
	"fleshout/pkg/spvasm"
)

const (
	shaderName   = "compute_shader"
	pipelineName = "pipeline"
)

// harness wraps the shader in an Amber script that initializes every buffer,
// dispatches the workgroups and expects the contents the paths predict.
func harness(opts Options, l *layout, m *spvasm.Module) *amber.Script {
	s := &amber.Script{
		ShaderName:   shaderName,
		Shader:       m.String(),
		PipelineName: pipelineName,
		Groups:       [3]int{opts.WorkgroupsX, opts.WorkgroupsY, opts.WorkgroupsZ},
	}
	for _, b := range l.buffers() {
		buf := amber.Buffer{Name: b.name, Size: b.size}
		if b.initial != nil {
			buf.Data = append([]uint32(nil), b.initial...)
		}
		s.Buffers = append(s.Buffers, buf)
		s.Bindings = append(s.Bindings, amber.Binding{Buffer: b.name, Binding: b.binding})
		s.Expects = append(s.Expects, amber.Expect{Buffer: b.name, Values: append([]uint32(nil), b.expect...)})
	}
	return s
}
