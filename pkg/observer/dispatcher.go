package observer

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorakhargosh/watchdog/internal/bricks"
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/handler"
)

// dispatcher is the single consumer goroutine: it drains the shared
// queue and routes each entry to every handler registered for the owning
// watch, applying the watch's FilterSet if it has one.
type dispatcher struct {
	queue    *bricks.EventQueue
	registry *registry
	logger   backend.Logger
	timeout  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newDispatcher(queue *bricks.EventQueue, reg *registry, logger backend.Logger, timeout time.Duration) *dispatcher {
	return &dispatcher{
		queue:    queue,
		registry: reg,
		logger:   logger,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

func (d *dispatcher) start() {
	d.wg.Add(1)
	go d.run()
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			d.drain()
			return
		default:
		}

		entry, err := d.queue.Get(d.timeout)
		if err != nil {
			continue
		}
		d.deliver(entry)
	}
}

// drain flushes whatever is already queued before the dispatcher exits.
func (d *dispatcher) drain() {
	for {
		entry, err := d.queue.Get(10 * time.Millisecond)
		if err != nil {
			return
		}
		d.deliver(entry)
	}
}

func (d *dispatcher) deliver(entry bricks.Entry) {
	d.registry.mu.Lock()
	handlers := d.registry.handlersFor(entry.Watch)
	d.registry.mu.Unlock()

	filter := entry.Watch.Filter()
	if !filter.Allows(entry.Event.Kind) {
		return
	}

	for _, h := range handlers {
		d.dispatchOne(h, entry.Event)
	}
}

// dispatchOne calls h.Dispatch(e), recovering and logging a panic so a
// misbehaving handler never stops the dispatcher.
func (d *dispatcher) dispatchOne(h handler.Handler, e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Errorf("observer: handler panicked on %s: %v", e.String(), r)
			}
		}
	}()
	h.Dispatch(e)
}

func (d *dispatcher) stop() {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
}

func (d *dispatcher) join(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("observer: dispatcher did not stop within %s", timeout)
	}
}
