// Package tracker counts requests per origin address and keeps a
// capacity-bounded ranking of the busiest addresses.
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// Two structures live behind one mutex: an unbounded count index
// (address -> entry) and a fixed-capacity min-heap holding pointers to
// the entries with the highest counts. Every Record increments the
// index entry in place and then reconciles the heap, so both views stay
// consistent per event.
//
// Counts are cumulative within an epoch only. Reset swaps in a fresh
// index and heap; nothing survives it. Addresses evicted from the
// ranking keep their index count and re-enter through ordinary updates
// once they outgrow the current heap minimum.
package tracker
