// Package entity defines the codec capability the mirror engine consumes.
//
// A mirrored row type implements Entity to expose its identity fields; a
// Codec converts it to and from the opaque payload bytes the engine stores.
// Codecs must be deterministic pure function pairs: Decode(Encode(x)) == x
// for every valid x.
package entity

import "errors"

// TimeStampUnset is the sentinel logical timestamp application code supplies
// when constructing rows. The server assigns the authoritative timestamp; it
// arrives via the event stream and is never set by application code.
const TimeStampUnset int64 = 0

// ErrMalformed indicates payload bytes that cannot be decoded, or a schema
// mismatch. Callers treat it as a per-event failure, never fatal.
var ErrMalformed = errors.New("entity: malformed payload")

// ErrNoDecoder indicates no registered variant decoder matched a row identity.
var ErrNoDecoder = errors.New("entity: no decoder for row identity")

// Entity exposes the mandatory identity fields of a mirrored row.
//
// PartitionKey and RowKey form the row identity. TimeStamp must return
// TimeStampUnset from application-constructed values. ExpiresAt returns the
// expiry instant in Unix milliseconds, or 0 for no expiry.
type Entity interface {
	PartitionKey() string
	RowKey() string
	TimeStamp() int64
	ExpiresAt() int64
}

// Codec converts typed rows to and from payload bytes.
type Codec[T Entity] interface {
	Encode(v T) ([]byte, error)
	Decode(payload []byte) (T, error)
}
