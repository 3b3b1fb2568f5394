package mirror

import "github.com/tablemesh/tablemesh-go/internal/core/domain"

// Reader is the consumer-facing read-only view of one table mirror.
// Reads never block ingestion beyond the lookup's read lock, never mutate
// state, and always return clones.
type Reader struct {
	table *Table
}

// TableName returns the mirrored table's name.
func (r *Reader) TableName() string {
	return r.table.name
}

// Get looks up one row by identity. The second result reports explicit
// absence; a not-ready or closed mirror surfaces as an error, never a
// crash. Expired rows read as absent even before a sweep has run.
func (r *Reader) Get(partitionKey, rowKey string) (*domain.RowRecord, bool, error) {
	return r.table.get(partitionKey, rowKey)
}

// GetPartition returns all live rows of a partition in row-key order.
func (r *Reader) GetPartition(partitionKey string) ([]*domain.RowRecord, error) {
	return r.table.getPartition(partitionKey)
}

// IsReady reports whether the first complete snapshot round has been
// applied and no resync is pending.
func (r *Reader) IsReady() bool {
	return r.table.isReady()
}

// Generation returns the number of completed snapshot rounds, useful for
// detecting full-table reloads between reads.
func (r *Reader) Generation() uint64 {
	return r.table.Generation()
}
