// Package fes implements the future-event set: a priority queue of
// pending events ordered by (dueAt, priority, id), with lazy
// deletion on cancel.
package fes

import (
	"container/heap"
	"fmt"

	"github.com/signalsfoundry/desengine/clock"
	"github.com/signalsfoundry/desengine/event"
)

// FES is a min-ordered queue of live events. It is not safe for
// concurrent use — the engine is single-threaded (spec.md §5) and
// only the scheduler/dispatcher ever touch it.
type FES[State any] struct {
	h              eventHeap[State]
	index          map[event.ID]*event.Event[State]
	cancelledTotal int
}

// New constructs an empty future-event set.
func New[State any]() *FES[State] {
	return &FES[State]{
		h:     make(eventHeap[State], 0),
		index: make(map[event.ID]*event.Event[State]),
	}
}

// Len reports the number of entries still held by the heap, including
// any not-yet-popped cancelled entries (the lazy-deletion backlog).
func (f *FES[State]) Len() int { return len(f.h) }

// Insert adds e to the set. e.DueAt must be >= now; callers (the
// scheduler) are responsible for that check, since the FES itself has
// no notion of "now" — it is a pure container.
func (f *FES[State]) Insert(e *event.Event[State]) {
	heap.Push(&f.h, e)
	f.index[e.ID] = e
}

// PopMin removes and returns the smallest live event. If the smallest
// entry on the heap is cancelled it is discarded and the search
// continues, per the mandatory lazy-deletion policy (spec.md §4.2).
// Returns nil when the set holds no live events.
func (f *FES[State]) PopMin() *event.Event[State] {
	for f.h.Len() > 0 {
		e := heap.Pop(&f.h).(*event.Event[State])
		delete(f.index, e.ID)
		if e.Alive() {
			return e
		}
	}
	return nil
}

// PeekMin returns the smallest live event without removing it, or nil
// if the set holds no live events. Cancelled entries at the head are
// not removed by Peek — only PopMin performs lazy deletion — but they
// are skipped for the purpose of reporting what is "next".
func (f *FES[State]) PeekMin() *event.Event[State] {
	// container/heap only guarantees the true min at index 0; finding
	// the min *live* event in the presence of a cancelled root needs a
	// full scan. Callers needing a non-destructive peek accept this
	// O(n) cost; the hot path (PopMin) stays O(log n) amortized.
	if f.h.Len() == 0 {
		return nil
	}
	best := -1
	for i, e := range f.h {
		if !e.Alive() {
			continue
		}
		if best == -1 || event.Less(e, f.h[best]) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	return f.h[best]
}

// Cancel marks the event with the given id as not alive. It remains
// in the heap until popped (lazy deletion) — this is mandatory, not
// an optimization shortcut: it preserves heap invariants without
// bookkeeping pressure on the hot path. Cancelling an unknown id is a
// silent no-op (handles may outlive their event).
func (f *FES[State]) Cancel(id event.ID) {
	if e, ok := f.index[id]; ok {
		e.Cancel()
		delete(f.index, id)
		f.cancelledTotal++
	}
}

// CancelledTotal reports the cumulative number of events cancelled
// over the lifetime of this set, including ones already popped and
// discarded.
func (f *FES[State]) CancelledTotal() int { return f.cancelledTotal }

// ValidateDueAt reports whether dueAt is legal given now: it must not
// be strictly before now. It does not mutate the set; scheduler.ScheduleAt
// calls this ahead of every Insert so the back-in-time check lives in
// one place rather than being duplicated at each call site.
func ValidateDueAt(now, dueAt clock.Time) error {
	if dueAt < now {
		return fmt.Errorf("dueAt %v is before now %v", dueAt, now)
	}
	return nil
}

// eventHeap implements container/heap.Interface over *event.Event.
// The ordering is entirely determined by event.Less — dueAt, then
// priority, then id — never by heap-internal tie-breaking, so pop
// order is fully deterministic (spec.md §4.2).
type eventHeap[State any] []*event.Event[State]

func (h eventHeap[State]) Len() int { return len(h) }

func (h eventHeap[State]) Less(i, j int) bool {
	return event.Less(h[i], h[j])
}

func (h eventHeap[State]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap[State]) Push(x any) {
	*h = append(*h, x.(*event.Event[State]))
}

func (h *eventHeap[State]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
