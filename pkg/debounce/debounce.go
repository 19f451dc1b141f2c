// Package debounce implements an event debouncer: a convenience wrapper,
// not used by any core emitter, that collapses a burst of events on the
// same path within a configurable window into a single event delivered
// to the wrapped handler. A batch flushes once no new event has arrived
// for the interval, or once the interval has elapsed since the batch's
// first event, whichever comes first; internal/bricks.OrderedSet keeps
// first-seen path order across a batch.
package debounce

import (
	"sync"
	"time"

	"github.com/gorakhargosh/watchdog/internal/bricks"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/handler"
)

// EventDebouncer wraps a handler.Handler, delivering at most one event
// per distinct path for every collection window instead of forwarding
// every event immediately.
type EventDebouncer struct {
	interval time.Duration
	target   handler.Handler

	mu      sync.Mutex
	cond    *sync.Cond
	order   *bricks.OrderedSet[string]
	latest  map[string]event.Event
	seq     uint64
	stopped bool

	wg      sync.WaitGroup
	started bool
}

// New builds an EventDebouncer that flushes into target after interval
// of silence (or interval total, whichever comes first). interval of zero
// collapses nothing and waits indefinitely for a first event instead —
// callers wanting "no debouncing" should not wrap a handler in one of
// these at all.
func New(interval time.Duration, target handler.Handler) *EventDebouncer {
	d := &EventDebouncer{
		interval: interval,
		target:   target,
		order:    bricks.NewOrderedSet[string](),
		latest:   make(map[string]event.Event),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Dispatch records e for its path and wakes the flush loop, satisfying
// handler.Handler so an EventDebouncer can be scheduled directly.
func (d *EventDebouncer) Dispatch(e event.Event) {
	d.mu.Lock()
	d.order.Add(e.SrcPath)
	d.latest[e.SrcPath] = e
	d.seq++
	d.cond.Broadcast()
	d.mu.Unlock()
}

// Start begins the flush loop on a background goroutine.
func (d *EventDebouncer) Start() {
	if d.started {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
}

// Stop signals the flush loop to flush whatever remains and exit. It
// does not block; call Wait for that guarantee.
func (d *EventDebouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.cond.Broadcast()
	d.mu.Unlock()
}

// Wait blocks until the flush loop has exited.
func (d *EventDebouncer) Wait() {
	d.wg.Wait()
}

func (d *EventDebouncer) run() {
	defer d.wg.Done()

	d.mu.Lock()
	defer d.mu.Unlock()

	for !d.stopped {
		for d.order.Len() == 0 && !d.stopped {
			d.cond.Wait()
		}
		if d.stopped {
			break
		}

		started := time.Now()
		if d.interval > 0 {
			for !d.stopped {
				timedOut := !d.waitForSignalOrTimeout(d.interval)
				if d.stopped || timedOut || time.Since(started) > d.interval {
					break
				}
			}
		}

		d.flushLocked()
	}
	d.flushLocked()
}

// waitForSignalOrTimeout waits on cond until either Dispatch/Stop
// signals it or timeout elapses, reporting whether a signal (not a bare
// timeout) woke it. sync.Cond has no native timeout, so an AfterFunc
// broadcast stands in for one.
func (d *EventDebouncer) waitForSignalOrTimeout(timeout time.Duration) bool {
	startSeq := d.seq
	timer := time.AfterFunc(timeout, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	d.cond.Wait()
	timer.Stop()
	return d.seq != startSeq
}

func (d *EventDebouncer) flushLocked() {
	paths := d.order.Items()
	if len(paths) == 0 {
		return
	}
	events := make([]event.Event, 0, len(paths))
	for _, p := range paths {
		events = append(events, d.latest[p])
	}
	d.order = bricks.NewOrderedSet[string]()
	d.latest = make(map[string]event.Event)

	d.mu.Unlock()
	for _, e := range events {
		d.target.Dispatch(e)
	}
	d.mu.Lock()
}

var _ handler.Handler = (*EventDebouncer)(nil)
