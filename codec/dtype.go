package codec

import (
	"fmt"
	"reflect"
	"strings"
)

// Scalar is the set of element types a vector collection can store.
type Scalar interface {
	~float32 | ~float64 | ~int32 | ~int64
}

// DType identifies the on-disk element type of an encoded vector.
type DType uint8

const (
	// Float32 stores IEEE-754 binary32 elements (4 bytes).
	Float32 DType = iota
	// Float64 stores IEEE-754 binary64 elements (8 bytes).
	Float64
	// Int32 stores two's complement 32-bit integers.
	Int32
	// Int64 stores two's complement 64-bit integers.
	Int64
)

// String returns the stable lower-case name of the dtype.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// Width returns the number of bytes one element occupies.
func (d DType) Width() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

// ParseDType parses a dtype name. An empty string selects Float32.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float32", "f32":
		return Float32, nil
	case "float64", "f64":
		return Float64, nil
	case "int32", "i32":
		return Int32, nil
	case "int64", "i64":
		return Int64, nil
	default:
		return Float32, fmt.Errorf("codec: unknown dtype %q", s)
	}
}

// DTypeOf returns the dtype used to store elements of type T.
func DTypeOf[T Scalar]() DType {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Float64:
		return Float64
	case reflect.Int32:
		return Int32
	case reflect.Int64:
		return Int64
	default:
		return Float32
	}
}

// Convert converts a vector between scalar types using Go conversion
// semantics: float64 to float32 rounds to nearest, floats to integers
// truncate toward zero. This is the only narrowing path the package offers.
func Convert[T, S Scalar](src []S) []T {
	if src == nil {
		return nil
	}
	dst := make([]T, len(src))
	for i, v := range src {
		dst[i] = T(v)
	}
	return dst
}
