package entity

import (
	"encoding/json"
	"fmt"
)

// JSONCodec encodes rows as JSON. T must be a struct type whose JSON form
// round-trips, which makes this the default codec for hand-written entities.
type JSONCodec[T Entity] struct{}

// NewJSON creates a JSON codec for T.
func NewJSON[T Entity]() JSONCodec[T] {
	return JSONCodec[T]{}
}

// Encode marshals the row to JSON.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// Decode unmarshals payload bytes into a fresh T.
func (JSONCodec[T]) Decode(payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
