// Package kernel provides the dot product and squared norm kernels used by
// cosine search.
//
// Every kernel accumulates in float64 regardless of the element type, so
// results are comparable across float32, float64 and integer collections.
package kernel

import (
	"os"
	"strings"

	"github.com/hupe1980/tinyvec/codec"
)

// Impl identifies a kernel implementation.
type Impl uint8

const (
	// Generic is the reference single-accumulator loop.
	Generic Impl = iota
	// Unrolled uses four independent accumulators so the loop pipelines on
	// wide out-of-order cores.
	Unrolled
)

// String returns the name accepted by TINYVEC_KERNEL.
func (i Impl) String() string {
	switch i {
	case Generic:
		return "generic"
	case Unrolled:
		return "unrolled"
	default:
		return "unknown"
	}
}

// ParseImpl parses a kernel name.
func ParseImpl(s string) (Impl, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "generic":
		return Generic, true
	case "unrolled":
		return Unrolled, true
	default:
		return Generic, false
	}
}

// Set once by the platform init; read-only afterwards.
var (
	active      Impl
	hasOverride bool

	hasAVX2  bool
	hasASIMD bool
)

func initCapabilities() {
	if override := os.Getenv("TINYVEC_KERNEL"); override != "" {
		if impl, ok := ParseImpl(override); ok {
			hasOverride = true
			active = impl
			return
		}
	}

	active = selectBest()
}

func selectBest() Impl {
	if hasAVX2 || hasASIMD {
		return Unrolled
	}
	return Generic
}

// Active returns the kernel selected for this process.
func Active() Impl {
	return active
}

// IsOverridden reports whether TINYVEC_KERNEL chose the kernel.
func IsOverridden() bool {
	return hasOverride
}

// Dot returns the dot product of a and b.
//
// len(a) must equal len(b); callers validate dimensions before calling.
func Dot[T codec.Scalar](a, b []T) float64 {
	if active == Unrolled {
		return dotUnrolled(a, b)
	}
	return dotGeneric(a, b)
}

// SquaredNorm returns the sum of squares of v.
func SquaredNorm[T codec.Scalar](v []T) float64 {
	if active == Unrolled {
		return squaredNormUnrolled(v)
	}
	return squaredNormGeneric(v)
}
