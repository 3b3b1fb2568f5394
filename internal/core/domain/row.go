// Package domain defines the core domain models for the TableMesh client.
//
// Domain models are pure value objects without IO dependencies or
// framework coupling.
package domain

import "time"

// TimeStampUnset is the sentinel logical timestamp carried by rows that
// application code constructs. The server assigns the authoritative value;
// the mirror engine overwrites the sentinel on ingest and application code
// must never supply anything else.
const TimeStampUnset int64 = 0

// NoExpiry marks a row without a TTL.
const NoExpiry int64 = 0

// RowRecord is one stored row of a mirrored table.
//
// (PartitionKey, RowKey) uniquely identifies a row within a table; both are
// immutable after creation. TimeStamp is the server-assigned logical clock
// used for conflict resolution. Payload is the codec-produced byte form of
// the row; the engine never inspects it.
type RowRecord struct {
	PartitionKey string `json:"partition_key"`
	RowKey       string `json:"row_key"`

	// TimeStamp is mutated exclusively by the reconciliation engine.
	TimeStamp int64 `json:"time_stamp"`

	// ExpiresAt is the absolute expiry instant (Unix milliseconds).
	// NoExpiry means the row never expires.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	Payload []byte `json:"payload"`
}

// IsExpired reports whether the row is logically absent at the given instant.
func (r *RowRecord) IsExpired(nowMilli int64) bool {
	if r.ExpiresAt == NoExpiry {
		return false
	}
	return nowMilli >= r.ExpiresAt
}

// ExpiresIn returns the remaining time to live at now, or 0 when expired
// or when no expiry is set.
func (r *RowRecord) ExpiresIn(now time.Time) time.Duration {
	if r.ExpiresAt == NoExpiry {
		return 0
	}
	remaining := r.ExpiresAt - now.UnixMilli()
	if remaining < 0 {
		return 0
	}
	return time.Duration(remaining) * time.Millisecond
}

// Clone returns a deep copy. Readers always receive clones so application
// code can never mutate engine-owned state.
func (r *RowRecord) Clone() *RowRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Payload != nil {
		out.Payload = make([]byte, len(r.Payload))
		copy(out.Payload, r.Payload)
	}
	return &out
}
