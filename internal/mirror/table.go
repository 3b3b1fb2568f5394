package mirror

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
	"github.com/tablemesh/tablemesh-go/internal/telemetry/metric"
)

// TableState is the per-table mirror lifecycle state.
type TableState int32

const (
	// StateUninitialized means no snapshot has ever been applied.
	StateUninitialized TableState = iota

	// StateSyncing means a resync round is pending or in progress.
	// Reads may serve the last known-good snapshot (serve-stale mode).
	StateSyncing

	// StateReady means a complete snapshot round has been applied.
	StateReady

	// StateClosed is terminal; reached on explicit teardown.
	StateClosed
)

// String returns the state name for logs.
func (s TableState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSyncing:
		return "syncing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Table is the mirror of one remote table: a partition index plus the
// reconciliation state machine.
//
// All index access runs under mu. Writers (the apply path) hold the write
// lock only for the index mutation; readers hold the read lock only for
// lookup and clone. No lock is ever held across network I/O.
type Table struct {
	name string

	mu    sync.RWMutex
	index *partitionIndex
	state TableState

	// generation counts completed snapshot rounds. A resync round carries
	// the round id handed out by BeginSync; chunks bearing an older round
	// than the current one are stale and discarded.
	generation uint64
	round      uint64
	roundOpen  bool
	touched    map[string]struct{} // partitions replaced in the open round

	serveStale bool

	lastHeartbeat atomic.Int64 // Unix milliseconds

	logger  *slog.Logger
	metrics *metric.Metrics
}

func newTable(name string, serveStale bool, logger *slog.Logger, metrics *metric.Metrics) *Table {
	return &Table{
		name:       name,
		index:      newPartitionIndex(),
		state:      StateUninitialized,
		serveStale: serveStale,
		logger:     logger.With("table", name),
		metrics:    metrics,
	}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// State returns the current lifecycle state.
func (t *Table) State() TableState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Generation returns the number of completed snapshot rounds.
func (t *Table) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// BeginSync opens a new resync round and returns its id. Any round still
// open becomes stale: its remaining chunks and completion marker will be
// discarded. Ready tables transition back to Syncing.
func (t *Table) BeginSync() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed {
		return 0
	}

	t.round++
	t.roundOpen = true
	t.touched = make(map[string]struct{})
	if t.state == StateReady {
		t.state = StateSyncing
	} else if t.state == StateUninitialized && t.index.rowCount() > 0 {
		// Warm-loaded data exists; serve-stale reads may use it.
		t.state = StateSyncing
	}

	t.logger.Debug("resync round opened", "round", t.round, "state", t.state.String())
	return t.round
}

// ApplyChunk atomically replaces one partition with snapshot rows.
// A full snapshot is authoritative: prior timestamps are irrelevant.
// Chunks from a superseded round are discarded. Returns false when the
// chunk was discarded.
func (t *Table) ApplyChunk(round uint64, partitionKey string, rows []*domain.RowRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed {
		return false
	}
	if !t.roundOpen || round != t.round {
		t.metrics.EventsDiscarded.WithLabelValues("stale_round").Inc()
		t.logger.Warn("discarding snapshot chunk from stale round",
			"chunk_round", round, "current_round", t.round, "partition", partitionKey)
		return false
	}

	t.index.replacePartition(partitionKey, rows)
	t.touched[partitionKey] = struct{}{}
	t.metrics.EventsApplied.WithLabelValues(domain.EventSnapshotChunk.String()).Inc()
	t.updateRowGauge()
	return true
}

// CompleteSync closes a resync round: partitions the round never touched
// are dropped (the round is table-level ground truth), the generation
// advances, and the table becomes Ready. Returns false when the completion
// belongs to a superseded round.
func (t *Table) CompleteSync(round uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed {
		return false
	}
	if !t.roundOpen || round != t.round {
		t.metrics.EventsDiscarded.WithLabelValues("stale_round").Inc()
		t.logger.Warn("discarding snapshot completion from stale round",
			"done_round", round, "current_round", t.round)
		return false
	}

	t.index.retainPartitions(t.touched)
	t.roundOpen = false
	t.touched = nil
	t.generation++
	t.state = StateReady

	t.metrics.SnapshotRounds.Inc()
	t.metrics.EventsApplied.WithLabelValues(domain.EventSnapshotDone.String()).Inc()
	t.updateRowGauge()
	t.logger.Info("snapshot round complete",
		"generation", t.generation,
		"partitions", t.index.partitionCount(),
		"rows", t.index.rowCount())
	return true
}

// ApplyInitTable applies a whole-table snapshot as one atomic,
// self-completing round.
func (t *Table) ApplyInitTable(rows []*domain.RowRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed {
		return false
	}

	// Supersedes any chunked round in flight.
	t.round++
	t.roundOpen = false
	t.touched = nil

	byPartition := make(map[string][]*domain.RowRecord)
	for _, r := range rows {
		byPartition[r.PartitionKey] = append(byPartition[r.PartitionKey], r)
	}

	t.index = newPartitionIndex()
	for pk, prows := range byPartition {
		t.index.replacePartition(pk, prows)
	}

	t.generation++
	t.state = StateReady

	t.metrics.SnapshotRounds.Inc()
	t.metrics.EventsApplied.WithLabelValues(domain.EventInitTable.String()).Inc()
	t.updateRowGauge()
	t.logger.Info("table snapshot applied",
		"generation", t.generation,
		"partitions", t.index.partitionCount(),
		"rows", t.index.rowCount())
	return true
}

// ApplyUpsert reconciles one incoming row against the stored record:
// last-writer-wins on the logical timestamp, ties resolved in favor of the
// incoming event. Strictly older events are stale duplicates and are
// discarded. Returns false when discarded.
func (t *Table) ApplyUpsert(row *domain.RowRecord) (bool, error) {
	if row.PartitionKey == "" || row.RowKey == "" {
		return false, domain.ErrInvariant.WithDetails("upsert with empty identity")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed {
		return false, nil
	}
	if t.state == StateUninitialized {
		// No snapshot has ever been seen on this subscription; a delta
		// here would reconcile against garbage.
		t.metrics.EventsDiscarded.WithLabelValues("before_snapshot").Inc()
		t.logger.Warn("dropping upsert before first snapshot",
			"partition", row.PartitionKey, "row", row.RowKey)
		return false, nil
	}

	if old, ok := t.index.get(row.PartitionKey, row.RowKey); ok {
		if row.TimeStamp < old.TimeStamp {
			t.metrics.EventsDiscarded.WithLabelValues("stale_timestamp").Inc()
			return false, nil
		}
	}

	t.index.upsert(row)
	t.metrics.EventsApplied.WithLabelValues(domain.EventUpsert.String()).Inc()
	t.updateRowGauge()
	return true, nil
}

// ApplyDelete removes a row unconditionally. Deleting an absent row is a
// no-op; delete is idempotent.
func (t *Table) ApplyDelete(partitionKey, rowKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed || t.state == StateUninitialized {
		return false
	}

	removed := t.index.delete(partitionKey, rowKey)
	t.metrics.EventsApplied.WithLabelValues(domain.EventDelete.String()).Inc()
	if removed {
		t.updateRowGauge()
	}
	return removed
}

// Heartbeat records liveness; it never mutates row data.
func (t *Table) Heartbeat() {
	t.lastHeartbeat.Store(time.Now().UnixMilli())
	t.metrics.EventsApplied.WithLabelValues(domain.EventHeartbeat.String()).Inc()
}

// LastHeartbeat returns the last liveness signal instant, zero if none.
func (t *Table) LastHeartbeat() time.Time {
	ms := t.lastHeartbeat.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// MarkDisconnected transitions Ready to Syncing after a transport loss.
// Data is retained for serve-stale reads until a fresh round completes.
func (t *Table) MarkDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateReady {
		t.state = StateSyncing
		t.roundOpen = false
		t.logger.Info("table marked syncing after disconnect")
	}
}

// WarmLoad seeds an uninitialized table with cached rows. The table moves
// to Syncing so serve-stale reads work, but never to Ready: only a fresh
// snapshot round can certify the data.
func (t *Table) WarmLoad(rows []*domain.RowRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateUninitialized || len(rows) == 0 {
		return false
	}

	for _, r := range rows {
		t.index.upsert(r)
	}
	t.state = StateSyncing
	t.updateRowGauge()
	t.logger.Info("table warmed from cache", "rows", len(rows))
	return true
}

// Close tears the table down: terminal state, all rows released.
// Safe to invoke concurrently with in-flight applies and reads.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed {
		return
	}
	t.state = StateClosed
	t.index = newPartitionIndex()
	t.roundOpen = false
	t.touched = nil
	t.metrics.RowsLive.WithLabelValues(t.name).Set(0)
	t.logger.Info("table mirror closed")
}

// sweep removes rows whose expiry instant has passed, pruning partitions
// that empty out. Returns the number of rows removed.
func (t *Table) sweep(nowMilli int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed {
		return 0
	}

	type ident struct{ pk, rk string }
	var expired []ident
	for _, pk := range t.index.partitionKeys() {
		t.index.scanPartition(pk, func(r *domain.RowRecord) bool {
			if r.IsExpired(nowMilli) {
				expired = append(expired, ident{pk: r.PartitionKey, rk: r.RowKey})
			}
			return true
		})
	}

	for _, id := range expired {
		t.index.delete(id.pk, id.rk)
	}
	if len(expired) > 0 {
		t.updateRowGauge()
		t.logger.Debug("ttl sweep removed rows", "removed", len(expired))
	}
	return len(expired)
}

// readableLocked reports whether reads may be served, under t.mu.
func (t *Table) readableLocked() error {
	switch t.state {
	case StateClosed:
		return domain.ErrClosed.WithDetails(t.name)
	case StateReady:
		return nil
	case StateSyncing:
		if t.serveStale {
			return nil
		}
		return domain.ErrNotReady.WithDetails(t.name)
	default:
		return domain.ErrNotReady.WithDetails(t.name)
	}
}

// get returns a clone of one row. Expired rows are absent even before a
// sweep runs; read-time filtering is the defensive backstop.
func (t *Table) get(partitionKey, rowKey string) (*domain.RowRecord, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.readableLocked(); err != nil {
		return nil, false, err
	}

	rec, ok := t.index.get(partitionKey, rowKey)
	if !ok || rec.IsExpired(time.Now().UnixMilli()) {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

// getPartition returns clones of a partition's rows in row-key order,
// with expired rows filtered out.
func (t *Table) getPartition(partitionKey string) ([]*domain.RowRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.readableLocked(); err != nil {
		return nil, err
	}

	nowMilli := time.Now().UnixMilli()
	var out []*domain.RowRecord
	t.index.scanPartition(partitionKey, func(r *domain.RowRecord) bool {
		if !r.IsExpired(nowMilli) {
			out = append(out, r.Clone())
		}
		return true
	})
	return out, nil
}

// isReady reports whether the first snapshot round has completed and no
// resync is pending.
func (t *Table) isReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == StateReady
}

// Rows returns clones of every live row, partition- then row-key-ordered.
// Used for cache persistence.
func (t *Table) Rows() []*domain.RowRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nowMilli := time.Now().UnixMilli()
	out := make([]*domain.RowRecord, 0, t.index.rowCount())
	for _, pk := range t.index.partitionKeys() {
		t.index.scanPartition(pk, func(r *domain.RowRecord) bool {
			if !r.IsExpired(nowMilli) {
				out = append(out, r.Clone())
			}
			return true
		})
	}
	return out
}

// RowCount returns the number of stored rows, expired ones included.
func (t *Table) RowCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.index.rowCount()
}

func (t *Table) updateRowGauge() {
	t.metrics.RowsLive.WithLabelValues(t.name).Set(float64(t.index.rowCount()))
}
