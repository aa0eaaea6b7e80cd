package tracker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func record(t *Tracker, addr string, times int) {
	for i := 0; i < times; i++ {
		t.Record(addr)
	}
}

func TestRecord_CountsPerAddress(t *testing.T) {
	tr := New()

	record(tr, "10.0.0.1", 2)
	record(tr, "10.0.0.2", 1)
	record(tr, "10.0.0.1", 1)

	if got := tr.count("10.0.0.1"); got != 3 {
		t.Errorf("count(10.0.0.1) = %d, want 3", got)
	}
	if got := tr.count("10.0.0.2"); got != 1 {
		t.Errorf("count(10.0.0.2) = %d, want 1", got)
	}

	want := []string{"10.0.0.1", "10.0.0.2"}
	got := tr.Addresses()
	if len(got) != len(want) {
		t.Fatalf("Addresses() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Addresses() = %v, want %v", got, want)
		}
	}
}

func TestRecord_EmptyAddressIsValidKey(t *testing.T) {
	tr := New()

	// requests without a resolvable client IP all share one bucket
	tr.Record("")
	tr.Record("")

	if got := tr.count(""); got != 2 {
		t.Fatalf("count(\"\") = %d, want 2", got)
	}
	if got := tr.Addresses(); len(got) != 1 || got[0] != "" {
		t.Fatalf("Addresses() = %q, want one empty entry", got)
	}
}

func TestSnapshot_NeverExceedsCapacity(t *testing.T) {
	tr := New(WithCapacity(5))

	for i := 0; i < 20; i++ {
		tr.Record(fmt.Sprintf("10.0.0.%d", i))
	}

	if got := len(tr.Snapshot()); got != 5 {
		t.Fatalf("snapshot length = %d, want 5", got)
	}
	if got := tr.Distinct(); got != 20 {
		t.Fatalf("Distinct() = %d, want 20", got)
	}
}

func TestSnapshot_FewerThanCapacity(t *testing.T) {
	tr := New(WithCapacity(100))

	tr.Record("10.0.0.1")
	tr.Record("10.0.0.2")

	if got := len(tr.Snapshot()); got != 2 {
		t.Fatalf("snapshot length = %d, want 2 (min of capacity and distinct)", got)
	}
}

func TestSnapshot_SortedDescending(t *testing.T) {
	tr := New(WithCapacity(10))

	record(tr, "a", 3)
	record(tr, "b", 7)
	record(tr, "c", 1)
	record(tr, "d", 5)

	snap := tr.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i].Count > snap[i-1].Count {
			t.Fatalf("snapshot not descending at %d: %v", i, snap)
		}
	}
	if snap[0].Addr != "b" || snap[0].Count != 7 {
		t.Fatalf("snapshot[0] = %+v, want b/7", snap[0])
	}
}

// Every member of the snapshot must have a count at least as high as
// every address that was left out.
func TestSnapshot_TopNCorrectness(t *testing.T) {
	const capacity = 4
	tr := New(WithCapacity(capacity))

	// counts 1..12, addresses addr-1..addr-12
	counts := make(map[string]uint64)
	for i := 1; i <= 12; i++ {
		addr := fmt.Sprintf("addr-%d", i)
		record(tr, addr, i)
		counts[addr] = uint64(i)
	}

	snap := tr.Snapshot()
	if len(snap) != capacity {
		t.Fatalf("snapshot length = %d, want %d", len(snap), capacity)
	}

	members := make(map[string]bool, len(snap))
	var minIn uint64 = ^uint64(0)
	for _, e := range snap {
		members[e.Addr] = true
		if e.Count != counts[e.Addr] {
			t.Errorf("snapshot count for %s = %d, want %d", e.Addr, e.Count, counts[e.Addr])
		}
		if e.Count < minIn {
			minIn = e.Count
		}
	}
	for addr, c := range counts {
		if !members[addr] && c > minIn {
			t.Errorf("address %s (count %d) excluded while ranking minimum is %d", addr, c, minIn)
		}
	}
}

func TestSnapshot_ReadsAreIdempotent(t *testing.T) {
	tr := New(WithCapacity(3))
	record(tr, "a", 2)
	record(tr, "b", 2)
	record(tr, "c", 2)
	record(tr, "d", 2)

	first := tr.Snapshot()
	second := tr.Snapshot()

	if len(first) != len(second) {
		t.Fatalf("snapshot lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("snapshot[%d] differs between reads: %+v vs %+v", i, first[i], second[i])
		}
	}
}

// Tie-break rule: among equal counts, first-seen addresses survive.
// With capacity 2 and three count-1 addresses, the newest one is the
// one left out.
func TestEviction_TieBreakKeepsFirstSeen(t *testing.T) {
	tr := New(WithCapacity(2))

	tr.Record("a")
	tr.Record("b")
	tr.Record("c")

	got := tr.Addresses()
	if len(got) != 2 {
		t.Fatalf("Addresses() length = %d, want 2", len(got))
	}
	seen := map[string]bool{got[0]: true, got[1]: true}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("Addresses() = %v, want a and b to survive the tie", got)
	}
}

func TestEviction_HigherCountDisplacesMinimum(t *testing.T) {
	tr := New(WithCapacity(2))

	record(tr, "a", 3)
	record(tr, "b", 2)
	record(tr, "c", 5) // reaches 5, must displace b

	got := tr.Addresses()
	want := []string{"c", "a"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Addresses() = %v, want %v", got, want)
	}
}

func TestEviction_EvictedAddressReenters(t *testing.T) {
	tr := New(WithCapacity(2))

	record(tr, "a", 2)
	record(tr, "b", 2)
	record(tr, "c", 3) // evicts one of a/b

	// the evicted address kept its index count, four more records put
	// it back on top
	record(tr, "b", 4)

	got := tr.Addresses()
	if got[0] != "b" {
		t.Fatalf("Addresses()[0] = %q, want b after re-entry (full: %v)", got[0], got)
	}
	if want := tr.count("b"); want != 6 {
		t.Fatalf("count(b) = %d, want 6 (count survives eviction)", want)
	}
}

func TestRecord_BumpedMemberMovesToFront(t *testing.T) {
	const capacity = 6
	tr := New(WithCapacity(capacity))

	// fill to capacity with single-count addresses
	for i := 0; i < capacity; i++ {
		tr.Record(fmt.Sprintf("10.1.0.%d", i))
	}

	record(tr, "10.1.0.3", 2)

	got := tr.Addresses()
	if got[0] != "10.1.0.3" {
		t.Fatalf("Addresses()[0] = %q, want 10.1.0.3 after two extra records", got[0])
	}
	if len(got) != capacity {
		t.Fatalf("Addresses() length = %d, want %d", len(got), capacity)
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	tr := New(WithCapacity(3))
	record(tr, "a", 5)
	record(tr, "b", 2)

	before := tr.EpochStart()
	tr.Reset()

	if got := tr.Addresses(); len(got) != 0 {
		t.Fatalf("Addresses() after reset = %v, want empty", got)
	}
	if got := tr.Distinct(); got != 0 {
		t.Fatalf("Distinct() after reset = %d, want 0", got)
	}
	if got := tr.count("a"); got != 0 {
		t.Fatalf("count(a) after reset = %d, want 0", got)
	}
	if tr.EpochStart().Before(before) {
		t.Fatal("EpochStart() moved backwards across reset")
	}

	// fresh epoch behaves like a new tracker
	tr.Record("a")
	got := tr.Addresses()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("Addresses() = %v, want [a]", got)
	}
	if c := tr.count("a"); c != 1 {
		t.Fatalf("count(a) = %d, want 1 in fresh epoch", c)
	}
}

func TestDefaults(t *testing.T) {
	tr := New()
	if tr.Capacity() != 100 {
		t.Errorf("default capacity = %d, want 100", tr.Capacity())
	}

	tr = New(WithCapacity(0))
	if tr.Capacity() != 100 {
		t.Errorf("WithCapacity(0) capacity = %d, want default 100", tr.Capacity())
	}
}

func TestOnRecord_CalledPerEvent(t *testing.T) {
	var calls atomic.Int32
	tr := New(WithOnRecord(func(addr string) {
		calls.Add(1)
	}))

	record(tr, "a", 3)
	record(tr, "b", 2)

	if got := calls.Load(); got != 5 {
		t.Fatalf("OnRecord called %d times, want 5", got)
	}
}

func TestOnEvict_CalledWithEvictedAddress(t *testing.T) {
	var mu sync.Mutex
	evicted := make(map[string]uint64)

	tr := New(
		WithCapacity(2),
		WithOnEvict(func(addr string, count uint64) {
			mu.Lock()
			evicted[addr] = count
			mu.Unlock()
		}),
	)

	record(tr, "a", 3)
	record(tr, "b", 2)
	record(tr, "c", 5) // displaces b at count 2

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 {
		t.Fatalf("evictions = %v, want exactly one", evicted)
	}
	if c, ok := evicted["b"]; !ok || c != 2 {
		t.Fatalf("evicted = %v, want b at count 2", evicted)
	}
}

func TestNilCallbacks_NoPanic(t *testing.T) {
	tr := New(WithCapacity(1))
	tr.Record("a")
	tr.Record("b") // b at count 1 does not displace a, no hooks set - should be fine
	record(tr, "b", 2)
}

func TestConcurrent_NoLostUpdates(t *testing.T) {
	const (
		workers = 16
		each    = 500
	)
	tr := New(WithCapacity(10))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				tr.Record("X")
			}
		}()
	}
	wg.Wait()

	if got := tr.count("X"); got != workers*each {
		t.Fatalf("count(X) = %d, want %d (lost updates)", got, workers*each)
	}
	if got := tr.Addresses(); len(got) != 1 || got[0] != "X" {
		t.Fatalf("Addresses() = %v, want [X]", got)
	}
}

func TestConcurrent_RecordSnapshotReset(t *testing.T) {
	tr := New(WithCapacity(8))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; ; j++ {
				select {
				case <-stop:
					return
				default:
				}
				tr.Record(fmt.Sprintf("10.2.%d.%d", n, j%32))
			}
		}(i)
	}

	// readers and resetters race the writers, every snapshot observed
	// must be internally consistent
	for i := 0; i < 200; i++ {
		snap := tr.Snapshot()
		if len(snap) > 8 {
			t.Errorf("snapshot length %d exceeds capacity 8", len(snap))
		}
		for j := 1; j < len(snap); j++ {
			if snap[j].Count > snap[j-1].Count {
				t.Errorf("torn snapshot, not descending: %v", snap)
			}
		}
		if i%50 == 49 {
			tr.Reset()
		}
	}
	close(stop)
	wg.Wait()
}

func BenchmarkRecord_RepeatAddress(b *testing.B) {
	tr := New()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		tr.Record("10.0.0.1")
	}
}

func BenchmarkRecord_ChurningAddresses(b *testing.B) {
	tr := New()
	addrs := make([]string, 1024)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("10.%d.%d.%d", i/65536, (i/256)%256, i%256)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Record(addrs[i%len(addrs)])
	}
}
