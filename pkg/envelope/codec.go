package envelope

import (
	"io"

	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

// Marshal serializes a value to JSON bytes.
func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// Unmarshal deserializes JSON bytes into the given target.
func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

// MarshalIndent is Marshal with indentation, used for human-facing output.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return codec.MarshalIndent(v, prefix, indent)
}

// NewEncoder returns an encoder writing JSON values to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return codec.NewEncoder(w)
}
