package quadsocket

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Codec converts typed values to and from message payloads.
// It is only consulted by SendValue and TryReceiveValue; the transports
// themselves always carry raw bytes.
type Codec interface {
	// Marshal encodes v into a payload.
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into the value pointed to by v.
	Unmarshal(data []byte, v any) error
}

// BinaryCodec encodes fixed-size values (numbers, bools, and arrays or
// structs made of them) field by field with no padding.
// A nil Order means big-endian.
type BinaryCodec struct {
	Order binary.ByteOrder
}

func (c BinaryCodec) order() binary.ByteOrder {
	if c.Order == nil {
		return binary.BigEndian
	}
	return c.Order
}

// Marshal implements Codec.
func (c BinaryCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, c.order(), v); err != nil {
		return nil, errors.Wrapf(err, "marshal %T", v)
	}
	return buf.Bytes(), nil
}

// Unmarshal implements Codec. The payload must be consumed exactly.
func (c BinaryCodec) Unmarshal(data []byte, v any) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, c.order(), v); err != nil {
		return errors.Wrapf(err, "unmarshal %T", v)
	}
	if r.Len() != 0 {
		return errors.Errorf("unmarshal %T: %d trailing bytes", v, r.Len())
	}
	return nil
}
