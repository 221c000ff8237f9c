// Package reactor implements the daemon's single-threaded, cooperative
// event loop: a descriptor-readiness reactor with a timer min-heap and a
// ready-queue of deferred callbacks.
//
// Every exported method is meant to be called either before Run starts or
// from inside a callback invoked by the reactor's own goroutine - the
// reactor keeps no internal locks because, by construction, only one
// goroutine ever touches its state. Plugins that own a background thread
// hand work back across that boundary through a registered wake
// descriptor, never by calling the reactor directly from another
// goroutine.
package reactor

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"time"
)

// ErrCorrupted is returned by RegisterReader and RegisterSink when fd is
// already registered. Run does not return it.
var ErrCorrupted = errors.New("reactor: descriptor registration corrupted")

// ReadCallback is invoked when a registered descriptor becomes read-ready.
type ReadCallback func()

type descriptor struct {
	fd            int
	cb            ReadCallback
	deleteOnClose bool
	removing      bool // unregister requested while cb is executing
	inCallback    bool
}

// Reactor is the daemon's single event loop.
type Reactor struct {
	poller poller

	descriptors map[int]*descriptor
	// registration order, for "read callbacks fire in registration order"
	order []int

	timers    timerHeap
	timerByID map[TimerID]*timerEvent
	nextTimer TimerID
	seq       int64

	ready []func()

	now func() time.Time
}

// New creates a Reactor backed by the platform's descriptor-readiness
// primitive (epoll on Linux).
func New() (*Reactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		poller:      p,
		descriptors: make(map[int]*descriptor),
		timerByID:   make(map[TimerID]*timerEvent),
		now:         time.Now,
	}, nil
}

// Defer appends a zero-delay callback to the ready queue. Callbacks
// enqueued by a ready-queue callback are drained in the same iteration,
// before the reactor proceeds to the readiness wait.
func (r *Reactor) Defer(cb func()) {
	r.ready = append(r.ready, cb)
}

// RegisterReader registers fd for read-readiness notifications. cb is
// invoked, in registration order relative to other ready descriptors, each
// time fd is readable.
func (r *Reactor) RegisterReader(fd int, cb ReadCallback) error {
	return r.registerDescriptor(fd, cb, false)
}

// RegisterSink registers a connected descriptor. deleteOnClose is recorded
// with the registration, but the reactor never reads from fd itself, so it
// does not detect EOF and never closes fd or drops the registration on its
// own; that is left to the callback's owner.
func (r *Reactor) RegisterSink(fd int, cb ReadCallback, deleteOnClose bool) error {
	return r.registerDescriptor(fd, cb, deleteOnClose)
}

func (r *Reactor) registerDescriptor(fd int, cb ReadCallback, deleteOnClose bool) error {
	if _, exists := r.descriptors[fd]; exists {
		return ErrCorrupted
	}
	if err := r.poller.add(fd); err != nil {
		return err
	}
	r.descriptors[fd] = &descriptor{fd: fd, cb: cb, deleteOnClose: deleteOnClose}
	r.order = append(r.order, fd)
	return nil
}

// Unregister removes fd. If called while fd's callback is executing,
// removal is deferred until the callback returns.
func (r *Reactor) Unregister(fd int) {
	d, ok := r.descriptors[fd]
	if !ok {
		return
	}
	if d.inCallback {
		d.removing = true
		return
	}
	r.removeDescriptor(fd)
}

func (r *Reactor) removeDescriptor(fd int) {
	_ = r.poller.remove(fd)
	delete(r.descriptors, fd)
	for i, f := range r.order {
		if f == fd {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// RegisterTimer arms a timer to fire after delay. If repeating is true, the
// callback is re-armed with fireAt += delay each time it fires, unless the
// callback returns false. A delay of 0 fires on the next loop iteration,
// functioning like Defer but through the timer heap.
func (r *Reactor) RegisterTimer(delay time.Duration, repeating bool, cb func() bool) TimerID {
	r.nextTimer++
	id := r.nextTimer
	r.seq++
	ev := &timerEvent{
		id:        id,
		fireAt:    r.now().Add(delay),
		interval:  delay,
		repeating: repeating,
		callback:  cb,
		seq:       r.seq,
	}
	heap.Push(&r.timers, ev)
	r.timerByID[id] = ev
	return id
}

// CancelTimer cancels a single-shot or repeating timer by id. Cancelling an
// id that has already fired and is mid-callback is silently ignored.
func (r *Reactor) CancelTimer(id TimerID) {
	ev, ok := r.timerByID[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(r.timerByID, id)
}

// nextDeadline returns the time of the next due timer, and ok=false if
// there are none armed.
func (r *Reactor) nextDeadline() (time.Time, bool) {
	for r.timers.Len() > 0 && r.timers[0].cancelled {
		heap.Pop(&r.timers)
	}
	if r.timers.Len() == 0 {
		return time.Time{}, false
	}
	return r.timers[0].fireAt, true
}

// drainReady runs every callback currently in the ready queue, including
// ones newly enqueued by a callback that just ran, until the queue is
// empty.
func (r *Reactor) drainReady(ctx context.Context) {
	for len(r.ready) > 0 {
		if ctx.Err() != nil {
			return
		}
		cb := r.ready[0]
		r.ready = r.ready[1:]
		cb()
	}
}

// fireDueTimers pops and invokes every timer whose fireAt has passed.
func (r *Reactor) fireDueTimers() {
	now := r.now()
	for r.timers.Len() > 0 {
		top := r.timers[0]
		if top.cancelled {
			heap.Pop(&r.timers)
			continue
		}
		if top.fireAt.After(now) {
			break
		}
		heap.Pop(&r.timers)
		delete(r.timerByID, top.id)

		top.firing = true
		cont := top.callback()
		top.firing = false

		if top.repeating && cont && !top.cancelled {
			top.fireAt = top.fireAt.Add(top.interval)
			if top.fireAt.Before(now) {
				top.fireAt = now.Add(top.interval)
			}
			r.seq++
			top.seq = r.seq
			heap.Push(&r.timers, top)
			r.timerByID[top.id] = top
		}
	}
}

// Run drives the event loop until ctx is cancelled or an unrecoverable
// failure occurs: drain the ready queue, wait for descriptor readiness
// bounded by the next timer deadline, dispatch ready descriptors in
// registration order, then fire due timers.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		// Step 1: drain the ready queue.
		r.drainReady(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// Step 2: compute the wait timeout from the next timer deadline and
		// wait for descriptor readiness.
		timeout := 100 * time.Millisecond // re-check ctx.Done periodically
		if deadline, ok := r.nextDeadline(); ok {
			if d := time.Until(deadline); d < timeout {
				if d < 0 {
					d = 0
				}
				timeout = d
			}
		}

		readyFDs, err := r.poller.wait(timeout)
		if err != nil {
			if errors.Is(err, errInterrupted) {
				continue
			}
			log.Printf("reactor: wait failed: %v", err)
			return err
		}

		// Step 3: dispatch ready descriptors in registration order.
		if len(readyFDs) > 0 {
			readySet := make(map[int]bool, len(readyFDs))
			for _, fd := range readyFDs {
				readySet[fd] = true
			}
			for _, fd := range r.order {
				if !readySet[fd] {
					continue
				}
				d, ok := r.descriptors[fd]
				if !ok {
					continue
				}
				d.inCallback = true
				d.cb()
				d.inCallback = false
				if d.removing {
					r.removeDescriptor(fd)
				}
			}
		}

		// Step 4: fire due timers.
		r.fireDueTimers()
	}
}

// FDCount returns the number of registered descriptors (for diagnostics and
// tests).
func (r *Reactor) FDCount() int { return len(r.descriptors) }

// Close releases the reactor's polling primitive.
func (r *Reactor) Close() error {
	return r.poller.close()
}
