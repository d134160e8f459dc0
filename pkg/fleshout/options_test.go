package fleshout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	o := Defaults()
	require.NoError(t, o.Validate())
	assert.Equal(t, 1, o.Actors())
	assert.True(t, o.Barriers)
	assert.Equal(t, 50, o.BarrierProb)
}

func TestOptionsValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Options)
		errMsg string
	}{
		{"zero_path_length", func(o *Options) { o.PathLength = 0 }, "path-length must be at least 1"},
		{"zero_threads", func(o *Options) { o.ThreadsY = 0 }, "y-threads must be at least 1"},
		{"negative_workgroups", func(o *Options) { o.WorkgroupsZ = -2 }, "z-workgroups must be at least 1"},
		{"huge_dimension", func(o *Options) { o.ThreadsX = maxActors + 1 }, "x-threads must be at most 65536"},
		{"too_many_actors", func(o *Options) { o.ThreadsX, o.WorkgroupsX = 1024, 1024 }, "threads times workgroups must be at most 65536"},
		{"barrier_prob_high", func(o *Options) { o.BarrierProb = 101 }, "barrier-prob value must between [0,100]"},
		{"barrier_prob_low", func(o *Options) { o.BarrierProb = -1 }, "barrier-prob value must between [0,100]"},
		{"negative_attempts", func(o *Options) { o.MaxAttempts = -1 }, "max-attempts must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := Defaults()
			tc.modify(&o)
			err := o.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestOptionsNormalize(t *testing.T) {
	o := Defaults()
	o.Barriers = false
	o.BarrierProb = 500
	o.SinglePath = true
	n := o.normalize()
	assert.Equal(t, 0, n.BarrierProb)
	assert.Equal(t, 0, n.MaxAttempts)
	// An out-of-range probability is irrelevant once barriers are off.
	assert.NoError(t, o.validate())
}

func TestOptionsOverlay(t *testing.T) {
	o := Defaults()
	err := o.Overlay(strings.NewReader("seed: 42\nthreads_x: 4\nphi_instrumentation: true\nbarriers: false\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), o.Seed)
	assert.Equal(t, 4, o.ThreadsX)
	assert.True(t, o.PhiInstrumentation)
	assert.False(t, o.Barriers)
	assert.Equal(t, defaultPathLength, o.PathLength)
	assert.Equal(t, 1, o.WorkgroupsX)

	empty := Defaults()
	require.NoError(t, empty.Overlay(strings.NewReader("")))
	assert.Equal(t, Defaults(), empty)

	err = o.Overlay(strings.NewReader("thread_x: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thread_x")
}
