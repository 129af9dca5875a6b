package asyncoro

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled wakeup for a coroutine. seq is compared
// against the heap's latest sequence number for that coroutine at pop time
// to detect a stale entry left behind by a cancelled or superseded timer
// (tombstone invalidation): a coroutine owns at most one live timer at a
// time, so a newer arm or a cancel simply bumps the sequence number and the
// old entry is discarded when it surfaces.
type timerEntry struct {
	deadline time.Time
	coro     *Coro
	alarm    any
	seq      uint64
	index    int
}

type timerHeapImpl []*timerEntry

func (h timerHeapImpl) Len() int { return len(h) }
func (h timerHeapImpl) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeapImpl) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeapImpl) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeapImpl) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timerHeap is the scheduler's min-heap of pending deadlines, guarded by
// the scheduler's own reentrant lock (callers must already hold it).
type timerHeap struct {
	h    timerHeapImpl
	seqs map[int64]uint64 // coro id -> latest armed sequence number
}

func newTimerHeap() *timerHeap {
	return &timerHeap{seqs: make(map[int64]uint64)}
}

// arm schedules (or re-schedules, superseding any prior entry) a wakeup
// for c at deadline, delivering alarm as c's resume value if the timer
// fires before anything else wakes c.
func (t *timerHeap) arm(c *Coro, deadline time.Time, alarm any) {
	t.seqs[c.id]++
	heap.Push(&t.h, &timerEntry{deadline: deadline, coro: c, alarm: alarm, seq: t.seqs[c.id]})
}

// cancel invalidates any outstanding timer for c without needing to find
// and remove it from the heap immediately; it will be dropped lazily when
// popped.
func (t *timerHeap) cancel(c *Coro) {
	t.seqs[c.id]++
}

// nextDeadline returns the earliest live deadline, if any.
func (t *timerHeap) nextDeadline() (time.Time, bool) {
	for len(t.h) > 0 {
		top := t.h[0]
		if top.seq != t.seqs[top.coro.id] {
			heap.Pop(&t.h)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// popExpired removes and returns every live timer entry whose deadline is
// at or before now, along with the alarm value each one carries.
func (t *timerHeap) popExpired(now time.Time) []*timerEntry {
	var expired []*timerEntry
	for len(t.h) > 0 {
		top := t.h[0]
		if top.seq != t.seqs[top.coro.id] {
			heap.Pop(&t.h)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&t.h)
		expired = append(expired, top)
	}
	return expired
}
