package domain

import "fmt"

// EventKind tags a ChangeEvent variant.
type EventKind uint8

const (
	// EventUpsert inserts or overwrites one row, subject to timestamp
	// conflict resolution.
	EventUpsert EventKind = iota + 1

	// EventDelete removes one row unconditionally; idempotent.
	EventDelete

	// EventSnapshotChunk atomically replaces one partition's row set with
	// server ground truth, regardless of prior timestamps.
	EventSnapshotChunk

	// EventSnapshotDone completes the current resync round for a table.
	EventSnapshotDone

	// EventInitTable replaces the whole table in one self-completing
	// snapshot round.
	EventInitTable

	// EventHeartbeat signals liveness only; never mutates data.
	EventHeartbeat
)

// String returns the kind name for logs.
func (k EventKind) String() string {
	switch k {
	case EventUpsert:
		return "upsert"
	case EventDelete:
		return "delete"
	case EventSnapshotChunk:
		return "snapshot_chunk"
	case EventSnapshotDone:
		return "snapshot_done"
	case EventInitTable:
		return "init_table"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ChangeEvent is one decoded table-change event from the subscription feed.
//
// Field usage by kind:
//   - EventUpsert: Row
//   - EventDelete: PartitionKey, RowKey
//   - EventSnapshotChunk: PartitionKey, Rows
//   - EventInitTable: Rows (any mix of partitions)
//   - EventSnapshotDone, EventHeartbeat: no payload fields
type ChangeEvent struct {
	Kind  EventKind
	Table string

	Row *RowRecord

	PartitionKey string
	RowKey       string

	Rows []*RowRecord
}
