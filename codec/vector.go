package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// ErrPayloadSize reports a decoded payload whose byte length does not match
// dimension × element width.
type ErrPayloadSize struct {
	Expected int
	Actual   int
}

func (e *ErrPayloadSize) Error() string {
	return fmt.Sprintf("codec: payload size mismatch: expected %d bytes, got %d", e.Expected, e.Actual)
}

// Vector converts fixed-length vectors to and from their storage text.
//
// The text form is standard padded base64 over the elements written
// little-endian at the dtype's width. This layout is shared with every other
// engine that reads the same tables, so it must never change.
//
// Vector is immutable and safe for concurrent use.
type Vector[T Scalar] struct {
	dtype     DType
	dimension int
}

// New returns the codec for T vectors of the given dimension.
func New[T Scalar](dimension int) Vector[T] {
	return Vector[T]{dtype: DTypeOf[T](), dimension: dimension}
}

// DType returns the element type written by Encode.
func (c Vector[T]) DType() DType { return c.dtype }

// Dimension returns the vector length this codec accepts.
func (c Vector[T]) Dimension() int { return c.dimension }

// Encode returns the storage text of v. The caller guarantees len(v) equals
// the codec dimension; the collection validates this before encoding.
func (c Vector[T]) Encode(v []T) string {
	buf := make([]byte, 0, len(v)*c.dtype.Width())
	switch c.dtype {
	case Float32:
		for _, x := range v {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(x)))
		}
	case Float64:
		for _, x := range v {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(x)))
		}
	case Int32:
		for _, x := range v {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(x)))
		}
	case Int64:
		for _, x := range v {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(x)))
		}
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode parses storage text produced by Encode.
func (c Vector[T]) Decode(s string) ([]T, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid base64: %w", err)
	}
	width := c.dtype.Width()
	if want := c.dimension * width; len(raw) != want {
		return nil, &ErrPayloadSize{Expected: want, Actual: len(raw)}
	}

	out := make([]T, c.dimension)
	for i := range out {
		b := raw[i*width:]
		switch c.dtype {
		case Float32:
			out[i] = T(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case Float64:
			out[i] = T(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		case Int32:
			out[i] = T(int32(binary.LittleEndian.Uint32(b)))
		case Int64:
			out[i] = T(int64(binary.LittleEndian.Uint64(b)))
		}
	}
	return out, nil
}
