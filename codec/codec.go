// Package codec centralizes how tinyvec turns values into stored bytes.
//
// Two concerns live here. Vector is the fixed text encoding of a vector row;
// it is a cross-engine contract and never changes. Codec is the pluggable
// encoding of structured metadata such as blob-store manifests, which record
// the codec name so they can be decoded with the same codec later.
package codec

import "fmt"

// Codec encodes/decodes structured metadata.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
