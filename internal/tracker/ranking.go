package tracker

import (
	"container/heap"
	"sort"
)

// ranking is a fixed-capacity min-heap over entry pointers, ordered so
// the root is always the next eviction candidate. Entries carry their
// own heap slot, which makes membership checks O(1) and repositioning
// O(log N) instead of the O(N) scan a plain heap would need.
//
// Tie-break: among equal counts the younger entry (higher seq) sits
// nearer the root, so first-seen addresses survive eviction ties.
type ranking struct {
	entries []*Entry
	cap     int
}

func newRanking(capacity int) *ranking {
	return &ranking{
		entries: make([]*Entry, 0, capacity),
		cap:     capacity,
	}
}

// reconcile restores the membership invariant after e's count changed.
// Returns the entry evicted to make room, or nil.
func (r *ranking) reconcile(e *Entry) *Entry {
	if e.slot >= 0 {
		// already a member, count went up so it can only sift away
		// from the root
		heap.Fix(r, e.slot)
		return nil
	}
	if len(r.entries) < r.cap {
		heap.Push(r, e)
		return nil
	}
	min := r.entries[0]
	if e.Count <= min.Count {
		// correctly excluded: not strictly above the boundary
		return nil
	}
	min.slot = -1
	r.entries[0] = e
	e.slot = 0
	heap.Fix(r, 0)
	return min
}

// sorted returns value copies of the members, highest count first,
// equal counts in first-seen order.
func (r *ranking) sorted() []Entry {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = Entry{Addr: e.Addr, Count: e.Count}
		out[i].seq = e.seq
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].seq < out[j].seq
	})
	for i := range out {
		out[i].seq = 0
	}
	return out
}

// container/heap interface

func (r *ranking) Len() int { return len(r.entries) }

func (r *ranking) Less(i, j int) bool {
	a, b := r.entries[i], r.entries[j]
	if a.Count != b.Count {
		return a.Count < b.Count
	}
	return a.seq > b.seq
}

func (r *ranking) Swap(i, j int) {
	r.entries[i], r.entries[j] = r.entries[j], r.entries[i]
	r.entries[i].slot = i
	r.entries[j].slot = j
}

func (r *ranking) Push(x any) {
	e := x.(*Entry)
	e.slot = len(r.entries)
	r.entries = append(r.entries, e)
}

func (r *ranking) Pop() any {
	old := r.entries
	n := len(old)
	e := old[n-1]
	e.slot = -1
	old[n-1] = nil
	r.entries = old[:n-1]
	return e
}
