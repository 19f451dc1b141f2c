package observer

import (
	"sync"
	"time"

	"github.com/gorakhargosh/watchdog/internal/bricks"
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/backend/polling"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/handler"
)

// emitterFactory constructs the backend.Emitter for one watch. Platform
// files (platform_linux.go, platform_darwin.go, ...) each supply one,
// selected at NewObserver time by an explicit factory call.
type emitterFactory func(w event.ObservedWatch, q backend.Queue, log backend.Logger, opts Options) (backend.Emitter, error)

// Observer is the engine kernel: it owns the watch registry, the shared
// event queue, the dispatcher goroutine, and the per-watch emitters a
// platform factory produces.
type Observer struct {
	opts     Options
	queue    *bricks.EventQueue
	registry *registry
	dispatch *dispatcher
	logger   backend.Logger
	newEmit  emitterFactory

	mu      sync.Mutex // guards started and stopped
	started bool
	stopped bool
}

// NewObserver performs explicit platform detection via the factory
// selected by the platform-tagged file compiled into this build, and
// returns an interface-shaped value: callers never see the concrete
// backend type.
func NewObserver(opts Options, logger backend.Logger) *Observer {
	return newObserverWithFactory(opts, logger, platformEmitterFactory)
}

// NewPollingObserver always uses the portable polling backend regardless
// of platform, for network filesystems whose change notifications are
// unreliable.
func NewPollingObserver(opts Options, logger backend.Logger) *Observer {
	return newObserverWithFactory(opts, logger, pollingEmitterFactory)
}

func newObserverWithFactory(opts Options, logger backend.Logger, factory emitterFactory) *Observer {
	if opts.Timeout <= 0 {
		opts = DefaultOptions()
	}
	queue := bricks.NewEventQueue(opts.QueueCapacity)
	reg := newRegistry()
	return &Observer{
		opts:     opts,
		queue:    queue,
		registry: reg,
		dispatch: newDispatcher(queue, reg, logger, opts.timeout()),
		logger:   logger,
		newEmit:  factory,
	}
}

func pollingEmitterFactory(w event.ObservedWatch, q backend.Queue, log backend.Logger, _ Options) (backend.Emitter, error) {
	em := polling.New(w, q, log, polling.Options{Interval: backend.PollInterval})
	return em, nil
}

// Schedule attaches h to a watch on path with the given recursion and
// filter, creating the watch (and starting its emitter, if the observer
// is already running) on first use. Idempotent on (path, recursive).
func (o *Observer) Schedule(h handler.Handler, path string, recursive bool, filter event.FilterSet) (event.ObservedWatch, error) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return event.ObservedWatch{}, ErrIllegalState
	}
	started := o.started
	o.mu.Unlock()

	want := event.NewObservedWatch(path, recursive, filter)

	o.registry.mu.Lock()
	watch, created := o.registry.ensureWatch(want)
	o.registry.addHandler(watch, h)
	needsEmitter := created && started
	o.registry.mu.Unlock()

	if needsEmitter {
		if err := o.startEmitterFor(watch); err != nil {
			// Never leave a half-registered watch behind: a Schedule
			// that cannot acquire its kernel resources fails whole.
			o.registry.mu.Lock()
			o.registry.remove(watch)
			o.registry.mu.Unlock()
			return event.ObservedWatch{}, err
		}
	}
	return watch, nil
}

// AddHandlerForWatch attaches h to an already-scheduled watch, failing
// with ErrNotScheduled when w is unknown.
func (o *Observer) AddHandlerForWatch(h handler.Handler, w event.ObservedWatch) error {
	o.registry.mu.Lock()
	defer o.registry.mu.Unlock()
	if _, ok := o.registry.lookupByKey(keyOf(w)); !ok {
		return ErrNotScheduled
	}
	o.registry.addHandler(w, h)
	return nil
}

// RemoveHandlerForWatch detaches h from w. If w's handler set becomes
// empty, w is unscheduled and its emitter stopped.
func (o *Observer) RemoveHandlerForWatch(h handler.Handler, w event.ObservedWatch) error {
	o.registry.mu.Lock()
	empty := o.registry.removeHandler(w, h)
	var em backend.Emitter
	if empty {
		em, _ = o.registry.emitterFor(w)
		o.registry.remove(w)
	}
	o.registry.mu.Unlock()

	if em != nil {
		return em.Stop()
	}
	return nil
}

// Unschedule removes every handler from w, stops its emitter, and
// deletes the registry entry. Calls on an already-unscheduled watch
// succeed silently.
func (o *Observer) Unschedule(w event.ObservedWatch) error {
	o.registry.mu.Lock()
	em, ok := o.registry.emitterFor(w)
	o.registry.remove(w)
	o.registry.mu.Unlock()

	if !ok {
		return nil
	}
	return em.Stop()
}

// UnscheduleAll unschedules every live watch.
func (o *Observer) UnscheduleAll() error {
	o.registry.mu.Lock()
	watches := o.registry.allWatches()
	o.registry.mu.Unlock()

	var firstErr error
	for _, w := range watches {
		if err := o.Unschedule(w); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Start is idempotent: it starts the dispatcher and an emitter for every
// watch scheduled so far, so handlers scheduled before Start still see
// their events once started.
func (o *Observer) Start() error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.mu.Unlock()
	o.dispatch.start()

	o.registry.mu.Lock()
	watches := o.registry.allWatches()
	o.registry.mu.Unlock()

	for _, w := range watches {
		if err := o.startEmitterFor(w); err != nil {
			return err
		}
	}
	return nil
}

func (o *Observer) startEmitterFor(w event.ObservedWatch) error {
	em, err := o.newEmit(w, o.queue, o.logger, o.opts)
	if err != nil {
		return err
	}
	o.registry.mu.Lock()
	o.registry.setEmitter(w, em)
	o.registry.mu.Unlock()
	return em.Start()
}

// Stop stops every emitter, then synchronously drains the event queue
// and waits for the dispatcher to exit, bounded by opts.GracePeriod.
// Stop returning means the dispatcher has already stopped calling
// handlers, not merely that shutdown was requested. Stopping before
// Start fails with ErrIllegalState.
func (o *Observer) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrIllegalState
	}
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	o.mu.Unlock()

	o.registry.mu.Lock()
	watches := o.registry.allWatches()
	emitters := make([]backend.Emitter, 0, len(watches))
	for _, w := range watches {
		if em, ok := o.registry.emitterFor(w); ok {
			emitters = append(emitters, em)
		}
	}
	o.registry.mu.Unlock()

	for _, em := range emitters {
		em.Stop()
	}

	o.queue.Close()
	o.dispatch.stop()
	return o.dispatch.join(o.opts.gracePeriod())
}

// Join blocks until the dispatcher has exited, up to timeout.
func (o *Observer) Join(timeout time.Duration) error {
	return o.dispatch.join(timeout)
}
