package mirror

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
)

func subscribed(t *testing.T, s *Store, name string) (*Reader, *Table) {
	t.Helper()
	r, err := s.Subscribe(name)
	if err != nil {
		t.Fatalf("Subscribe(%s): %v", name, err)
	}
	tbl, ok := s.Table(name)
	if !ok {
		t.Fatalf("Table(%s) missing after Subscribe", name)
	}
	return r, tbl
}

// readyTable completes one snapshot round containing the given rows.
func readyTable(t *testing.T, tbl *Table, rows ...*domain.RowRecord) {
	t.Helper()
	round := tbl.BeginSync()
	byPartition := make(map[string][]*domain.RowRecord)
	for _, r := range rows {
		byPartition[r.PartitionKey] = append(byPartition[r.PartitionKey], r)
	}
	for pk, prows := range byPartition {
		if !tbl.ApplyChunk(round, pk, prows) {
			t.Fatalf("ApplyChunk(%s) discarded", pk)
		}
	}
	if !tbl.CompleteSync(round) {
		t.Fatal("CompleteSync discarded")
	}
}

func TestSubscribeRejectsInvalidName(t *testing.T) {
	s := NewStore()
	defer s.Close()

	_, err := s.Subscribe("My--Table")
	if !errors.Is(err, domain.ErrInvalidTableName) {
		t.Fatalf("Subscribe(My--Table) = %v, want ErrInvalidTableName", err)
	}
}

func TestSubscribeRejectsDuplicate(t *testing.T) {
	s := NewStore()
	defer s.Close()

	subscribed(t, s, "orders")
	if _, err := s.Subscribe("orders"); !errors.Is(err, domain.ErrAlreadySubscribed) {
		t.Fatalf("second Subscribe = %v, want ErrAlreadySubscribed", err)
	}
}

func TestSnapshotMakesTableReady(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	if r.IsReady() {
		t.Fatal("fresh table should not be ready")
	}
	if _, _, err := r.Get("cust-1", "ord-1"); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("Get before snapshot = %v, want ErrNotReady", err)
	}

	p1 := []byte(`{"amount":1}`)
	readyTable(t, tbl, &domain.RowRecord{
		PartitionKey: "cust-1", RowKey: "ord-1", TimeStamp: 100, Payload: p1,
	})

	if !r.IsReady() {
		t.Fatal("table should be ready after snapshot round")
	}
	rec, ok, err := r.Get("cust-1", "ord-1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v; want row", rec, ok, err)
	}
	if string(rec.Payload) != string(p1) {
		t.Fatalf("payload = %q, want %q", rec.Payload, p1)
	}
}

func TestUpsertLastWriterWins(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, &domain.RowRecord{
		PartitionKey: "cust-1", RowKey: "ord-1", TimeStamp: 100, Payload: []byte("P1"),
	})

	// Strictly older: stale duplicate, discarded.
	applied, err := tbl.ApplyUpsert(&domain.RowRecord{
		PartitionKey: "cust-1", RowKey: "ord-1", TimeStamp: 90, Payload: []byte("P2"),
	})
	if err != nil {
		t.Fatalf("ApplyUpsert: %v", err)
	}
	if applied {
		t.Fatal("upsert with older timestamp should be discarded")
	}
	rec, _, _ := r.Get("cust-1", "ord-1")
	if string(rec.Payload) != "P1" {
		t.Fatalf("payload = %q, want P1 (stale update discarded)", rec.Payload)
	}

	// Equal timestamp: tie goes to the incoming event.
	applied, err = tbl.ApplyUpsert(&domain.RowRecord{
		PartitionKey: "cust-1", RowKey: "ord-1", TimeStamp: 100, Payload: []byte("P3"),
	})
	if err != nil || !applied {
		t.Fatalf("tie upsert = %v, %v; want applied", applied, err)
	}
	rec, _, _ = r.Get("cust-1", "ord-1")
	if string(rec.Payload) != "P3" {
		t.Fatalf("payload = %q, want P3 (tie overwrites)", rec.Payload)
	}

	// Newer timestamp always wins.
	applied, _ = tbl.ApplyUpsert(&domain.RowRecord{
		PartitionKey: "cust-1", RowKey: "ord-1", TimeStamp: 200, Payload: []byte("P4"),
	})
	if !applied {
		t.Fatal("newer upsert should apply")
	}
}

func TestUpsertIncreasingTimestampsFinalStateIsLast(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl)

	for ts := int64(1); ts <= 50; ts++ {
		_, err := tbl.ApplyUpsert(&domain.RowRecord{
			PartitionKey: "p", RowKey: "r", TimeStamp: ts,
			Payload: []byte(fmt.Sprintf("v%d", ts)),
		})
		if err != nil {
			t.Fatalf("ApplyUpsert ts=%d: %v", ts, err)
		}
	}

	rec, _, _ := r.Get("p", "r")
	if string(rec.Payload) != "v50" {
		t.Fatalf("payload = %q, want v50", rec.Payload)
	}
}

func TestUpsertOrderIndependence(t *testing.T) {
	events := []*domain.RowRecord{
		{PartitionKey: "p", RowKey: "r", TimeStamp: 10, Payload: []byte("a")},
		{PartitionKey: "p", RowKey: "r", TimeStamp: 20, Payload: []byte("b")},
		{PartitionKey: "p", RowKey: "r", TimeStamp: 30, Payload: []byte("c")},
	}

	perms := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, perm := range perms {
		s := NewStore()
		r, tbl := subscribed(t, s, "orders")
		readyTable(t, tbl)

		for _, i := range perm {
			if _, err := tbl.ApplyUpsert(events[i].Clone()); err != nil {
				t.Fatalf("perm %v: ApplyUpsert: %v", perm, err)
			}
		}

		rec, ok, err := r.Get("p", "r")
		if err != nil || !ok {
			t.Fatalf("perm %v: Get = %v, %v", perm, ok, err)
		}
		if string(rec.Payload) != "c" || rec.TimeStamp != 30 {
			t.Fatalf("perm %v: final = (%q, ts=%d), want (c, 30)", perm, rec.Payload, rec.TimeStamp)
		}
		s.Close()
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, &domain.RowRecord{
		PartitionKey: "cust-1", RowKey: "ord-1", TimeStamp: 100, Payload: []byte("P1"),
	})

	if !tbl.ApplyDelete("cust-1", "ord-1") {
		t.Fatal("first delete should remove the row")
	}
	if _, ok, err := r.Get("cust-1", "ord-1"); err != nil || ok {
		t.Fatalf("Get after delete = %v, %v; want absent", ok, err)
	}

	// Second identical delete: no-op, no error.
	if tbl.ApplyDelete("cust-1", "ord-1") {
		t.Fatal("second delete should be a no-op")
	}
	if _, ok, err := r.Get("cust-1", "ord-1"); err != nil || ok {
		t.Fatalf("Get after double delete = %v, %v; want absent", ok, err)
	}
}

func TestUpsertBeforeFirstSnapshotDropped(t *testing.T) {
	s := NewStore()
	defer s.Close()

	_, tbl := subscribed(t, s, "orders")

	applied, err := tbl.ApplyUpsert(&domain.RowRecord{
		PartitionKey: "p", RowKey: "r", TimeStamp: 1, Payload: []byte("x"),
	})
	if err != nil {
		t.Fatalf("ApplyUpsert: %v", err)
	}
	if applied {
		t.Fatal("delta before any snapshot must be dropped")
	}
}

func TestUpsertEmptyIdentityIsInvariantViolation(t *testing.T) {
	s := NewStore()
	defer s.Close()

	_, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl)

	_, err := tbl.ApplyUpsert(&domain.RowRecord{PartitionKey: "", RowKey: "r"})
	if !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("ApplyUpsert(empty pk) = %v, want ErrInvariant", err)
	}
}

func TestSnapshotRoundReplacesPriorRows(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl,
		&domain.RowRecord{PartitionKey: "p1", RowKey: "r1", TimeStamp: 100, Payload: []byte("old")},
		&domain.RowRecord{PartitionKey: "p1", RowKey: "r2", TimeStamp: 100, Payload: []byte("old")},
		&domain.RowRecord{PartitionKey: "p2", RowKey: "r1", TimeStamp: 100, Payload: []byte("old")},
	)

	// New round: p1 shrinks to one row with an older timestamp; p2 is
	// absent from the round entirely.
	readyTable(t, tbl, &domain.RowRecord{
		PartitionKey: "p1", RowKey: "r1", TimeStamp: 5, Payload: []byte("new"),
	})

	rec, ok, _ := r.Get("p1", "r1")
	if !ok {
		t.Fatal("Get(p1,r1) absent; snapshot row missing")
	}
	if string(rec.Payload) != "new" {
		t.Fatalf("Get(p1,r1) payload = %q; snapshot must win regardless of timestamps", rec.Payload)
	}
	if _, ok, _ := r.Get("p1", "r2"); ok {
		t.Fatal("p1/r2 absent from snapshot should be gone")
	}
	if _, ok, _ := r.Get("p2", "r1"); ok {
		t.Fatal("partition untouched by the round should be dropped on completion")
	}
	if tbl.Generation() != 2 {
		t.Fatalf("Generation = %d, want 2", tbl.Generation())
	}
}

func TestStaleSnapshotRoundDiscarded(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")

	roundA := tbl.BeginSync()
	roundB := tbl.BeginSync() // racing resync supersedes A

	if tbl.ApplyChunk(roundA, "p1", []*domain.RowRecord{row("p1", "stale", 1)}) {
		t.Fatal("chunk from superseded round should be discarded")
	}
	if !tbl.ApplyChunk(roundB, "p1", []*domain.RowRecord{row("p1", "fresh", 1)}) {
		t.Fatal("chunk from current round should apply")
	}
	if tbl.CompleteSync(roundA) {
		t.Fatal("completion of superseded round should be discarded")
	}
	if !tbl.CompleteSync(roundB) {
		t.Fatal("completion of current round should apply")
	}

	if _, ok, _ := r.Get("p1", "stale"); ok {
		t.Fatal("stale round data leaked into the mirror")
	}
	if _, ok, err := r.Get("p1", "fresh"); err != nil || !ok {
		t.Fatalf("fresh round data missing: %v, %v", ok, err)
	}
}

func TestInitTableReplacesEverything(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, row("p1", "r1", 100), row("p2", "r1", 100))

	tbl.ApplyInitTable([]*domain.RowRecord{row("p3", "r1", 1)})

	if _, ok, _ := r.Get("p1", "r1"); ok {
		t.Fatal("p1 should be gone after whole-table snapshot")
	}
	if _, ok, _ := r.Get("p3", "r1"); !ok {
		t.Fatal("p3 should exist after whole-table snapshot")
	}
	if !r.IsReady() {
		t.Fatal("whole-table snapshot is self-completing")
	}
}

func TestExpiredRowInvisibleBeforeSweep(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")

	expiry := time.Now().Add(150 * time.Millisecond).UnixMilli()
	readyTable(t, tbl, &domain.RowRecord{
		PartitionKey: "p", RowKey: "r", TimeStamp: 1, ExpiresAt: expiry, Payload: []byte("v"),
	})

	if _, ok, err := r.Get("p", "r"); err != nil || !ok {
		t.Fatalf("row should be visible before expiry: %v, %v", ok, err)
	}

	time.Sleep(200 * time.Millisecond)

	// No sweep has run; read-time filtering must hide the row.
	if _, ok, err := r.Get("p", "r"); err != nil || ok {
		t.Fatalf("expired row must read as absent: %v, %v", ok, err)
	}
	rows, err := r.GetPartition("p")
	if err != nil || len(rows) != 0 {
		t.Fatalf("GetPartition = %d rows, %v; want 0", len(rows), err)
	}

	// The sweep then physically removes it.
	if removed := s.SweepOnce(); removed != 1 {
		t.Fatalf("SweepOnce removed %d, want 1", removed)
	}
	if tbl.RowCount() != 0 {
		t.Fatalf("RowCount = %d, want 0 after sweep", tbl.RowCount())
	}
}

func TestGetPartitionOrderedAndCloned(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, row("p", "c", 1), row("p", "a", 1), row("p", "b", 1))

	rows, err := r.GetPartition("p")
	if err != nil {
		t.Fatalf("GetPartition: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if rows[i].RowKey != w {
			t.Fatalf("rows[%d] = %q, want %q", i, rows[i].RowKey, w)
		}
	}

	// Mutating the returned clone must not affect the mirror.
	rows[0].Payload[0] = 'X'
	again, _ := r.GetPartition("p")
	if again[0].Payload[0] == 'X' {
		t.Fatal("reader mutation leaked into the mirror")
	}
}

func TestServeStaleDuringSyncing(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, row("p", "r", 1))

	tbl.MarkDisconnected()

	if r.IsReady() {
		t.Fatal("IsReady must report false while syncing")
	}
	if _, ok, err := r.Get("p", "r"); err != nil || !ok {
		t.Fatalf("serve-stale read during sync = %v, %v; want last known-good row", ok, err)
	}
}

func TestBlockDuringSyncMode(t *testing.T) {
	s := NewStore(WithBlockDuringSync())
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, row("p", "r", 1))

	if _, ok, err := r.Get("p", "r"); err != nil || !ok {
		t.Fatalf("ready read = %v, %v; want row", ok, err)
	}

	tbl.MarkDisconnected()
	if _, _, err := r.Get("p", "r"); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("blocking-mode read during sync = %v, want ErrNotReady", err)
	}
}

func TestUnsubscribeClosesTable(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, row("p", "r", 1))

	if err := s.Unsubscribe(r); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, _, err := r.Get("p", "r"); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("Get after Unsubscribe = %v, want ErrClosed", err)
	}
	if err := s.Unsubscribe(r); !errors.Is(err, domain.ErrTableNotSubscribed) {
		t.Fatalf("second Unsubscribe = %v, want ErrTableNotSubscribed", err)
	}
}

func TestCloseConcurrentWithReadsAndApplies(t *testing.T) {
	s := NewStore()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, row("p", "r", 1))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// Either a consistent read or an explicit closed error,
				// never a panic or torn state.
				if _, _, err := r.Get("p", "r"); err != nil && !errors.Is(err, domain.ErrClosed) {
					t.Errorf("Get: %v", err)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(2); i < 500; i++ {
			if _, err := tbl.ApplyUpsert(row("p", "r", i)); err != nil {
				t.Errorf("ApplyUpsert: %v", err)
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()
	close(stop)
	wg.Wait()
}

func TestWarmLoadServesStaleUntilReady(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")

	if !tbl.WarmLoad([]*domain.RowRecord{row("p", "r", 7)}) {
		t.Fatal("WarmLoad on a fresh table should succeed")
	}
	if r.IsReady() {
		t.Fatal("warm-loaded table must not report ready")
	}
	if _, ok, err := r.Get("p", "r"); err != nil || !ok {
		t.Fatalf("warm read = %v, %v; want cached row", ok, err)
	}

	// A second warm load is rejected; only a snapshot can change state now.
	if tbl.WarmLoad([]*domain.RowRecord{row("p", "x", 1)}) {
		t.Fatal("WarmLoad after leaving Uninitialized should be rejected")
	}
}

func TestStoreApplyDispatch(t *testing.T) {
	s := NewStore()
	defer s.Close()

	r, tbl := subscribed(t, s, "orders")
	readyTable(t, tbl, row("p", "r", 10))

	err := s.Apply(&domain.ChangeEvent{
		Kind: domain.EventUpsert, Table: "orders",
		Row: &domain.RowRecord{PartitionKey: "p", RowKey: "r", TimeStamp: 20, Payload: []byte("new")},
	})
	if err != nil {
		t.Fatalf("Apply(upsert): %v", err)
	}
	rec, _, _ := r.Get("p", "r")
	if string(rec.Payload) != "new" {
		t.Fatalf("payload = %q, want new", rec.Payload)
	}

	if err := s.Apply(&domain.ChangeEvent{
		Kind: domain.EventDelete, Table: "orders", PartitionKey: "p", RowKey: "r",
	}); err != nil {
		t.Fatalf("Apply(delete): %v", err)
	}
	if _, ok, _ := r.Get("p", "r"); ok {
		t.Fatal("row should be deleted")
	}

	err = s.Apply(&domain.ChangeEvent{Kind: domain.EventUpsert, Table: "unknown", Row: row("p", "r", 1)})
	if !errors.Is(err, domain.ErrTableNotSubscribed) {
		t.Fatalf("Apply(unknown table) = %v, want ErrTableNotSubscribed", err)
	}
}
