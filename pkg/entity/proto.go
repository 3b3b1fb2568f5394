package entity

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoEntity is an Entity that is also a protobuf message.
type ProtoEntity interface {
	Entity
	proto.Message
}

// ProtoCodec encodes rows in protobuf wire format. T is a generated message
// pointer type; newMessage allocates a fresh instance for decoding.
type ProtoCodec[T ProtoEntity] struct {
	newMessage func() T
}

// NewProto creates a protobuf codec for T.
func NewProto[T ProtoEntity](newMessage func() T) ProtoCodec[T] {
	return ProtoCodec[T]{newMessage: newMessage}
}

// Encode marshals the row to protobuf bytes.
func (c ProtoCodec[T]) Encode(v T) ([]byte, error) {
	out, err := proto.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// Decode unmarshals payload bytes into a fresh message.
func (c ProtoCodec[T]) Decode(payload []byte) (T, error) {
	m := c.newMessage()
	if err := proto.Unmarshal(payload, m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}
