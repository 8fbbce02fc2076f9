// Package serialization encodes snapshots stored in the remote tier.
package serialization

import (
	"bytes"
	"fmt"
	"io"
)

const (

	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder and Encoder are the interface for serialization.
type Decoder interface {
	Decode(v any) error
}

// Encoder and Decoder are the interface for serialization.
type Encoder interface {
	Encode(v any) error
}

// Codec pairs the encoder and decoder constructors of one format.
type Codec struct {
	Type       string
	NewEncoder func(io.Writer) Encoder
	NewDecoder func(io.Reader) Decoder
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	switch name {
	case JSONType, "":
		return Codec{Type: JSONType, NewEncoder: JSONEncoder, NewDecoder: JSONDecoder}, nil
	case GobType:
		return Codec{Type: GobType, NewEncoder: GobEncoder, NewDecoder: GobDecoder}, nil
	default:
		return Codec{}, fmt.Errorf("unsupported serialization type: %s", name)
	}
}

// Marshal encodes v into a byte slice.
func (c Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%s encode: %w", c.Type, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func (c Codec) Unmarshal(data []byte, v any) error {
	if err := c.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("%s decode: %w", c.Type, err)
	}
	return nil
}
