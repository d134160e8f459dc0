package fleshout

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	defaultPathLength  = 900
	defaultBarrierProb = 50
	defaultMaxAttempts = 1000

	// maxActors bounds threads x workgroups so buffer sizes stay addressable
	// by 32-bit constants.
	maxActors = 1 << 16
)

// Options is the API-level configuration of one generation request.
type Options struct {
	Seed uint64 `yaml:"seed"`

	// Soft cap on the random walk; completion to an exit may extend it.
	PathLength int `yaml:"path_length"`

	// Local workgroup size and dispatch size.
	ThreadsX    int `yaml:"threads_x"`
	ThreadsY    int `yaml:"threads_y"`
	ThreadsZ    int `yaml:"threads_z"`
	WorkgroupsX int `yaml:"workgroups_x"`
	WorkgroupsY int `yaml:"workgroups_y"`
	WorkgroupsZ int `yaml:"workgroups_z"`

	Barriers    bool `yaml:"barriers"`
	BarrierProb int  `yaml:"barrier_prob"`

	// PhiInstrumentation threads the bookkeeping indices through OpPhi
	// instead of function-local variables.
	PhiInstrumentation bool `yaml:"phi_instrumentation"`

	// MaxAttempts bounds the number of candidate paths tried when looking
	// for paths compatible with the first one.
	MaxAttempts int `yaml:"max_attempts"`

	// SinglePath makes every actor follow the first path.
	SinglePath bool `yaml:"single_path"`

	Concise bool `yaml:"concise"`
}

func Defaults() Options {
	return Options{
		PathLength:  defaultPathLength,
		ThreadsX:    1,
		ThreadsY:    1,
		ThreadsZ:    1,
		WorkgroupsX: 1,
		WorkgroupsY: 1,
		WorkgroupsZ: 1,
		Barriers:    true,
		BarrierProb: defaultBarrierProb,
		MaxAttempts: defaultMaxAttempts,
	}
}

// Overlay decodes YAML from r on top of o. Keys that are absent keep their
// current value; unknown keys are an error.
func (o *Options) Overlay(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}

func (o Options) ThreadsPerWorkgroup() int { return o.ThreadsX * o.ThreadsY * o.ThreadsZ }

func (o Options) NumWorkgroups() int { return o.WorkgroupsX * o.WorkgroupsY * o.WorkgroupsZ }

// Actors is the number of invocations the harness dispatches; each follows
// one path.
func (o Options) Actors() int { return o.ThreadsPerWorkgroup() * o.NumWorkgroups() }

func (o Options) Validate() error {
	if o.PathLength < 1 {
		return fmt.Errorf("path-length must be at least 1")
	}
	for _, d := range []struct {
		name string
		v    int
	}{
		{"x-threads", o.ThreadsX}, {"y-threads", o.ThreadsY}, {"z-threads", o.ThreadsZ},
		{"x-workgroups", o.WorkgroupsX}, {"y-workgroups", o.WorkgroupsY}, {"z-workgroups", o.WorkgroupsZ},
	} {
		if d.v < 1 {
			return fmt.Errorf("%s must be at least 1", d.name)
		}
		if d.v > maxActors {
			return fmt.Errorf("%s must be at most %d", d.name, maxActors)
		}
	}
	if o.ThreadsPerWorkgroup() > maxActors || o.NumWorkgroups() > maxActors || o.Actors() > maxActors {
		return fmt.Errorf("threads times workgroups must be at most %d, got %d", maxActors, o.Actors())
	}
	if o.BarrierProb < 0 || o.BarrierProb > 100 {
		return fmt.Errorf("barrier-prob value must between [0,100]")
	}
	if o.MaxAttempts < 0 {
		return fmt.Errorf("max-attempts must not be negative")
	}
	return nil
}

func (o Options) normalize() Options {
	if !o.Barriers {
		o.BarrierProb = 0
	}
	if o.SinglePath {
		o.MaxAttempts = 0
	}
	return o
}

func (o Options) validate() error {
	return o.normalize().Validate()
}
