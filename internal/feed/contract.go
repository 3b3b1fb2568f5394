// Package feed implements the subscription feed: the wire contract of the
// table-change stream and the ingestor client that keeps mirror tables
// synchronized over it.
//
// The protocol is a client-initiated TCP stream of binary frames:
//
//	[length u32 BE] [crc32 u32 BE over opcode+body] [opcode u8] [body]
//
// Strings and byte blocks inside a body are u32 BE length-prefixed; row
// lists are u32 BE count-prefixed. A session opens with a Greeting, then
// one Subscribe per table; the server answers each subscription with a
// snapshot (InitTable, or SnapshotChunk frames closed by SnapshotDone)
// before row deltas count. Frames are delivery-ordered per connection and
// never across connections; on session loss the client reconnects and
// opens a fresh snapshot round for every table.
package feed

import (
	"fmt"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
)

// Op identifies a frame type on the wire.
type Op uint8

// Wire opcodes. Frames for one table subscription arrive in send order on
// a single connection; ordering never survives a connection boundary.
const (
	// OpPing doubles as the zero-length heartbeat frame.
	OpPing Op = 0
	OpPong Op = 1

	// OpGreeting introduces the client before any subscription.
	OpGreeting Op = 2

	OpSubscribe     Op = 3
	OpInitTable     Op = 4
	OpSnapshotChunk Op = 5
	OpSnapshotDone  Op = 6
	OpUpdateRows    Op = 7
	OpDeleteRows    Op = 8
	OpError         Op = 9
	OpUnsubscribe   Op = 10
)

// String returns the opcode name for logs.
func (op Op) String() string {
	switch op {
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	case OpGreeting:
		return "greeting"
	case OpSubscribe:
		return "subscribe"
	case OpInitTable:
		return "init_table"
	case OpSnapshotChunk:
		return "snapshot_chunk"
	case OpSnapshotDone:
		return "snapshot_done"
	case OpUpdateRows:
		return "update_rows"
	case OpDeleteRows:
		return "delete_rows"
	case OpError:
		return "error"
	case OpUnsubscribe:
		return "unsubscribe"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// RowIdent is a bare row identity, used by delete frames.
type RowIdent struct {
	PartitionKey string
	RowKey       string
}

// Frame is one decoded wire frame. Field usage by opcode:
//   - OpGreeting: AppName, ClientID
//   - OpSubscribe, OpUnsubscribe, OpSnapshotDone: Table
//   - OpInitTable, OpUpdateRows: Table, Rows
//   - OpSnapshotChunk: Table, Partition, Rows
//   - OpDeleteRows: Table, Keys
//   - OpError: Message
//   - OpPing, OpPong: nothing
type Frame struct {
	Op Op

	AppName  string
	ClientID string

	Table     string
	Partition string
	Rows      []*domain.RowRecord
	Keys      []RowIdent
	Message   string
}
