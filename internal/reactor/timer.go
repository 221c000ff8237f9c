package reactor

import (
	"container/heap"
	"time"
)

// TimerID identifies a registered timer for cancellation.
type TimerID uint64

// timerEvent is one entry in the reactor's timer heap. Repeating timers are
// reinserted with fireAt += interval when they fire.
type timerEvent struct {
	id        TimerID
	fireAt    time.Time
	interval  time.Duration
	repeating bool
	callback  func() bool // return false to drop a repeating timer
	seq       int64       // insertion order, for same-instant tiebreak
	cancelled bool
	firing    bool // true while callback is executing (not consulted by CancelTimer)
	heapIndex int
}

// timerHeap is a container/heap.Interface ordered by fireAt, with
// insertion-order tiebreak for timers due at the same instant.
//
// container/heap is used directly (stdlib) rather than a third-party
// priority-queue package: it is a three-method interface with no behavior
// of its own, and no repo in the reference pack pulls in a heap library for
// this purpose - see DESIGN.md.
type timerHeap []*timerEvent

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x interface{}) {
	ev := x.(*timerEvent)
	ev.heapIndex = len(*h)
	*h = append(*h, ev)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.heapIndex = -1
	*h = old[:n-1]
	return ev
}

var _ = heap.Interface(&timerHeap{})
