package mirror

import (
	"testing"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
)

func row(pk, rk string, ts int64) *domain.RowRecord {
	return &domain.RowRecord{PartitionKey: pk, RowKey: rk, TimeStamp: ts, Payload: []byte(rk)}
}

func collect(ix *partitionIndex, pk string) []string {
	var keys []string
	ix.scanPartition(pk, func(r *domain.RowRecord) bool {
		keys = append(keys, r.RowKey)
		return true
	})
	return keys
}

func TestIndexUpsertOrdering(t *testing.T) {
	ix := newPartitionIndex()

	for _, rk := range []string{"ord-3", "ord-1", "ord-2"} {
		ix.upsert(row("cust-1", rk, 1))
	}

	got := collect(ix, "cust-1")
	want := []string{"ord-1", "ord-2", "ord-3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIndexUpsertOverwritesByIdentity(t *testing.T) {
	ix := newPartitionIndex()

	ix.upsert(row("p1", "r1", 1))
	ix.upsert(&domain.RowRecord{PartitionKey: "p1", RowKey: "r1", TimeStamp: 2, Payload: []byte("v2")})

	if ix.rowCount() != 1 {
		t.Fatalf("rowCount = %d, want 1 (no duplicate identity)", ix.rowCount())
	}
	rec, ok := ix.get("p1", "r1")
	if !ok || string(rec.Payload) != "v2" {
		t.Fatalf("get = %v, %v; want payload v2", rec, ok)
	}
}

func TestIndexDeletePrunesEmptyPartition(t *testing.T) {
	ix := newPartitionIndex()

	ix.upsert(row("p1", "r1", 1))
	if ix.partitionCount() != 1 {
		t.Fatalf("partitionCount = %d, want 1", ix.partitionCount())
	}

	if !ix.delete("p1", "r1") {
		t.Fatal("delete of existing row should report removal")
	}
	if ix.partitionCount() != 0 {
		t.Fatalf("partitionCount = %d, want 0 after pruning", ix.partitionCount())
	}

	if ix.delete("p1", "r1") {
		t.Fatal("delete of absent row should report false")
	}
}

func TestIndexReplacePartition(t *testing.T) {
	ix := newPartitionIndex()

	ix.upsert(row("p1", "old-1", 1))
	ix.upsert(row("p1", "old-2", 1))

	ix.replacePartition("p1", []*domain.RowRecord{row("p1", "new-1", 5)})

	if _, ok := ix.get("p1", "old-1"); ok {
		t.Fatal("old-1 should be gone after replace")
	}
	if _, ok := ix.get("p1", "new-1"); !ok {
		t.Fatal("new-1 should exist after replace")
	}

	ix.replacePartition("p1", nil)
	if ix.partitionCount() != 0 {
		t.Fatal("empty replace should remove the partition")
	}
}

func TestIndexRetainPartitions(t *testing.T) {
	ix := newPartitionIndex()
	ix.upsert(row("p1", "r1", 1))
	ix.upsert(row("p2", "r1", 1))
	ix.upsert(row("p3", "r1", 1))

	ix.retainPartitions(map[string]struct{}{"p2": {}})

	if ix.partitionCount() != 1 {
		t.Fatalf("partitionCount = %d, want 1", ix.partitionCount())
	}
	if _, ok := ix.get("p2", "r1"); !ok {
		t.Fatal("retained partition lost its rows")
	}
}

func TestIndexScanIsRestartable(t *testing.T) {
	ix := newPartitionIndex()
	ix.upsert(row("p1", "a", 1))
	ix.upsert(row("p1", "b", 1))

	// Stop after the first row, then scan again from the start.
	var first []string
	ix.scanPartition("p1", func(r *domain.RowRecord) bool {
		first = append(first, r.RowKey)
		return false
	})
	if len(first) != 1 || first[0] != "a" {
		t.Fatalf("partial scan = %v, want [a]", first)
	}

	if got := collect(ix, "p1"); len(got) != 2 {
		t.Fatalf("restarted scan = %v, want both rows", got)
	}
}
