// Package mirror implements the local mirror synchronization engine: the
// in-memory, always-up-to-date copy of remote tables fed by the
// subscription stream.
package mirror

import (
	"sort"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
)

// partition holds one partition's rows, row-key-ordered for deterministic
// enumeration. Not safe for concurrent use; the owning Table's lock guards
// every access.
type partition struct {
	rows  map[string]*domain.RowRecord
	order []string // sorted row keys, maintained incrementally
}

func newPartition() *partition {
	return &partition{rows: make(map[string]*domain.RowRecord)}
}

func (p *partition) get(rowKey string) (*domain.RowRecord, bool) {
	r, ok := p.rows[rowKey]
	return r, ok
}

func (p *partition) upsert(rec *domain.RowRecord) {
	if _, exists := p.rows[rec.RowKey]; !exists {
		i := sort.SearchStrings(p.order, rec.RowKey)
		p.order = append(p.order, "")
		copy(p.order[i+1:], p.order[i:])
		p.order[i] = rec.RowKey
	}
	p.rows[rec.RowKey] = rec
}

func (p *partition) delete(rowKey string) bool {
	if _, ok := p.rows[rowKey]; !ok {
		return false
	}
	delete(p.rows, rowKey)
	i := sort.SearchStrings(p.order, rowKey)
	p.order = append(p.order[:i], p.order[i+1:]...)
	return true
}

func (p *partition) len() int {
	return len(p.rows)
}

// scan visits rows in row-key order; yield returns false to stop.
func (p *partition) scan(yield func(*domain.RowRecord) bool) {
	for _, rk := range p.order {
		if !yield(p.rows[rk]) {
			return
		}
	}
}

// partitionIndex maps partition key to its partition. It owns every row
// record it holds; callers hand over records on upsert and never mutate
// them afterwards. The index itself cannot fail; only the Mirror Store's
// write discipline may invoke mutating operations.
type partitionIndex struct {
	partitions map[string]*partition
}

func newPartitionIndex() *partitionIndex {
	return &partitionIndex{partitions: make(map[string]*partition)}
}

func (ix *partitionIndex) get(partitionKey, rowKey string) (*domain.RowRecord, bool) {
	p, ok := ix.partitions[partitionKey]
	if !ok {
		return nil, false
	}
	return p.get(rowKey)
}

// upsert inserts or overwrites by identity. The conflict decision happened
// before this call; the index replaces unconditionally. Partitions are
// created lazily on first insert.
func (ix *partitionIndex) upsert(rec *domain.RowRecord) {
	p, ok := ix.partitions[rec.PartitionKey]
	if !ok {
		p = newPartition()
		ix.partitions[rec.PartitionKey] = p
	}
	p.upsert(rec)
}

// delete removes a row, pruning the partition when it empties.
func (ix *partitionIndex) delete(partitionKey, rowKey string) bool {
	p, ok := ix.partitions[partitionKey]
	if !ok {
		return false
	}
	removed := p.delete(rowKey)
	if removed && p.len() == 0 {
		delete(ix.partitions, partitionKey)
	}
	return removed
}

// scanPartition enumerates one partition in row-key order.
// Restartable: each call starts from the beginning.
func (ix *partitionIndex) scanPartition(partitionKey string, yield func(*domain.RowRecord) bool) {
	if p, ok := ix.partitions[partitionKey]; ok {
		p.scan(yield)
	}
}

// replacePartition atomically swaps a partition's entire row set.
// An empty row set removes the partition.
func (ix *partitionIndex) replacePartition(partitionKey string, rows []*domain.RowRecord) {
	if len(rows) == 0 {
		delete(ix.partitions, partitionKey)
		return
	}
	p := newPartition()
	for _, r := range rows {
		p.upsert(r)
	}
	ix.partitions[partitionKey] = p
}

// retainPartitions drops every partition whose key is not in keep.
func (ix *partitionIndex) retainPartitions(keep map[string]struct{}) {
	for pk := range ix.partitions {
		if _, ok := keep[pk]; !ok {
			delete(ix.partitions, pk)
		}
	}
}

func (ix *partitionIndex) partitionCount() int {
	return len(ix.partitions)
}

func (ix *partitionIndex) rowCount() int {
	n := 0
	for _, p := range ix.partitions {
		n += p.len()
	}
	return n
}

// partitionKeys returns partition keys in lexicographic order.
func (ix *partitionIndex) partitionKeys() []string {
	keys := make([]string, 0, len(ix.partitions))
	for pk := range ix.partitions {
		keys = append(keys, pk)
	}
	sort.Strings(keys)
	return keys
}
