package fleshout

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"
)

const (
	lcgA    uint64 = 0x5DEECE66D
	lcgC    uint64 = 0xB
	lcgMask uint64 = (1 << 48) - 1
)

// rng is the srand48/lrand48 recurrence. Every random choice of a generation
// request is drawn from one rng seeded once.
type rng struct {
	state     uint64
	trace     bool
	traceSite bool
	traceRaw  bool
	traceFile string
	tracePos  uint64
}

func newRNG(seed uint64) *rng {
	// srand48 semantics.
	r := &rng{state: ((seed << 16) + 0x330E) & lcgMask}
	if os.Getenv("FLESHOUT_TRACE_RNG") != "" {
		r.trace = true
		r.traceSite = os.Getenv("FLESHOUT_TRACE_RNG_SITE") != ""
		r.traceRaw = os.Getenv("FLESHOUT_TRACE_RNG_RAW") != ""
		r.traceFile = os.Getenv("FLESHOUT_TRACE_RNG_FILE")
		if r.traceFile == "" {
			r.traceFile = "/tmp/fleshout-rng.trace"
		}
		_ = os.WriteFile(r.traceFile, []byte(fmt.Sprintf("# seed=%d\n", seed)), 0644)
	}
	return r
}

func (r *rng) next31() uint32 {
	r.state = (lcgA*r.state + lcgC) & lcgMask
	return uint32(r.state >> 17)
}

// upto returns a value in [0, n).
func (r *rng) upto(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	raw := r.next31()
	x := raw % n
	r.traceDraw("U", n, x, raw)
	return x
}

// pick returns an index into a slice of length n.
func (r *rng) pick(n int) int {
	return int(r.upto(uint32(n)))
}

// point draws a position that is later reduced modulo the number of
// available slots.
func (r *rng) point() uint32 {
	return r.upto(math.MaxInt32)
}

// flipcoin returns true with probability p percent.
func (r *rng) flipcoin(p uint32) bool {
	if p > 100 {
		p = 100
	}
	raw := r.next31()
	ok := raw%100 < p
	var b uint32
	if ok {
		b = 1
	}
	r.traceDraw("F", p, b, raw)
	return ok
}

func (r *rng) traceDraw(kind string, n, x, raw uint32) {
	if !r.trace {
		return
	}
	r.tracePos++
	f, err := os.OpenFile(r.traceFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	line := fmt.Sprintf("%d %s %d -> %d", r.tracePos, kind, n, x)
	if r.traceRaw {
		line += fmt.Sprintf(" raw=%d", raw)
	}
	if r.traceSite {
		line += " @" + traceCaller()
	}
	_, _ = fmt.Fprintln(f, line)
}

func traceCaller() string {
	var pcs [12]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		name := fr.Function
		if name != "" && !strings.Contains(name, ".(*rng).") {
			return name
		}
		if !more {
			break
		}
	}
	return "unknown"
}
