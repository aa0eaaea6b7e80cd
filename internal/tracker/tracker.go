package tracker

import (
	"sync"
	"time"
)

// Entry is one tracked address with its request count for the current
// epoch. Identity is the address alone; Count is only ever incremented
// until the next reset.
type Entry struct {
	Addr  string `json:"addr"`
	Count uint64 `json:"count"`

	// heap bookkeeping, owned by Tracker. slot is the position in the
	// ranking heap, -1 while the entry is not a member. seq is assigned
	// once at first observation and breaks count ties deterministically.
	slot int
	seq  uint64
}

// Tracker tracks per-address request counts with a bounded top-N ranking
type Tracker struct {
	mu sync.Mutex

	// counts grows with every distinct address seen this epoch.
	// Entries are mutated in place, never replaced, so the ranking heap
	// can hold the same pointers and observe increments for free.
	counts  map[string]*Entry
	ranking *ranking

	capacity   int
	nextSeq    uint64
	epochStart time.Time

	// OnRecord is called after every recorded event, used for
	// incrementing prometheus counters
	OnRecord func(addr string)

	// OnEvict is called when an address falls out of the ranking.
	// Evicted addresses keep counting in the index but are only
	// reported again once they outgrow the current minimum.
	OnEvict func(addr string, count uint64)
}

type Option func(*Tracker)

// WithCapacity sets how many addresses the ranking retains. Values
// below 1 keep the default of 100.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithOnRecord sets a callback for every recorded event, used for
// incrementing prometheus counters
func WithOnRecord(fn func(addr string)) Option {
	return func(t *Tracker) {
		t.OnRecord = fn
	}
}

// WithOnEvict sets a callback for each address evicted from the ranking
func WithOnEvict(fn func(addr string, count uint64)) Option {
	return func(t *Tracker) {
		t.OnEvict = fn
	}
}

// New creates a Tracker with an empty index and ranking
func New(opts ...Option) *Tracker {
	t := &Tracker{
		capacity: 100,
	}
	for _, o := range opts {
		o(t)
	}
	t.counts = make(map[string]*Entry)
	t.ranking = newRanking(t.capacity)
	t.epochStart = time.Now()
	return t
}

// Record counts one request from addr and reconciles the ranking.
// Any string is a valid key, including empty (callers that resolve
// client IPs may legitimately come up empty, those all share one
// bucket). Never fails.
func (t *Tracker) Record(addr string) {
	t.mu.Lock()
	e, ok := t.counts[addr]
	if !ok {
		t.nextSeq++
		e = &Entry{Addr: addr, slot: -1, seq: t.nextSeq}
		t.counts[addr] = e
	}
	e.Count++
	evicted := t.ranking.reconcile(e)
	t.mu.Unlock()

	// hooks run outside the lock, they may do slow work
	if t.OnRecord != nil {
		t.OnRecord(addr)
	}
	if evicted != nil && t.OnEvict != nil {
		t.OnEvict(evicted.Addr, evicted.Count)
	}
}

// Snapshot returns the current ranking as value copies, busiest address
// first. Equal counts order by first observation. Never more than the
// configured capacity, fewer if fewer distinct addresses were seen.
// Callers get copies, never live entries.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ranking.sorted()
}

// Addresses returns Snapshot projected to just the address strings.
func (t *Tracker) Addresses() []string {
	snap := t.Snapshot()
	addrs := make([]string, len(snap))
	for i, e := range snap {
		addrs[i] = e.Addr
	}
	return addrs
}

// Reset starts a fresh epoch: both the index and the ranking are
// replaced atomically with respect to Record and Snapshot. In-flight
// holders of the old structures finish against the old epoch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.counts = make(map[string]*Entry)
	t.ranking = newRanking(t.capacity)
	t.nextSeq = 0
	t.epochStart = time.Now()
	t.mu.Unlock()
}

// Distinct returns how many distinct addresses were seen this epoch.
func (t *Tracker) Distinct() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

// Len returns how many addresses the ranking currently holds.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ranking.Len()
}

// Capacity returns the configured ranking capacity.
func (t *Tracker) Capacity() int { return t.capacity }

// EpochStart returns when the current epoch began.
func (t *Tracker) EpochStart() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epochStart
}

// count returns the index count for addr, 0 if unseen. Test hook.
func (t *Tracker) count(addr string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.counts[addr]; ok {
		return e.Count
	}
	return 0
}
