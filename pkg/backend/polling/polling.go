// Package polling implements the portable fallback backend: a ticker
// that snapshots the watched root on each interval and emits the diff
// against the previous snapshot. It needs no platform-specific kernel
// API, which makes it the one correct backend for network filesystems
// with weak change-notification semantics.
package polling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/snapshot"
)

// Options configures a polling Emitter.
type Options struct {
	// Interval between snapshots. Defaults to backend.PollInterval.
	Interval time.Duration
	// SkipInitialCatchUp, when true, seeds the first "previous" snapshot
	// from the live tree instead of an empty one, so the first tick
	// reports no events for pre-existing entries. Default false.
	SkipInitialCatchUp bool
	// IgnoreDevice overrides the snapshot walker's identity-collapsing
	// default; nil means "use the platform default".
	IgnoreDevice *bool
}

// Emitter polls a directory tree by repeated snapshot-and-diff.
type Emitter struct {
	watch   event.ObservedWatch
	queue   backend.Queue
	opts    Options
	walker  snapshot.Walker
	differ  snapshot.Differ
	logger  backend.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New constructs a polling Emitter for watch. queue receives every
// produced event; logger (may be nil) receives transient warnings.
func New(watch event.ObservedWatch, queue backend.Queue, logger backend.Logger, opts Options) *Emitter {
	if opts.Interval <= 0 {
		opts.Interval = backend.PollInterval
	}
	return &Emitter{
		watch:  watch,
		queue:  queue,
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (e *Emitter) Watch() event.ObservedWatch { return e.watch }

// Start begins the tick loop on a background goroutine.
func (e *Emitter) Start() error {
	if e.started {
		return nil
	}
	e.started = true

	walker := e.walker
	walker.IgnoreDevice = e.opts.IgnoreDevice

	prev, err := e.initialSnapshot(&walker)
	if err != nil {
		return err
	}

	e.wg.Add(1)
	go e.run(&walker, prev)
	return nil
}

func (e *Emitter) initialSnapshot(walker *snapshot.Walker) (*snapshot.Snapshot, error) {
	if e.opts.SkipInitialCatchUp {
		return walker.Walk(e.watch.Path(), e.watch.Recursive())
	}
	return snapshot.Empty(e.watch.Path()), nil
}

func (e *Emitter) run(walker *snapshot.Walker, prev *snapshot.Snapshot) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			cur, err := walker.Walk(e.watch.Path(), e.watch.Recursive())
			if err != nil {
				if e.logger != nil {
					e.logger.Warnf("polling %s: %v", e.watch.Path(), errors.Join(backend.ErrWatchVanished, err))
				}
				e.queue.Put(event.New(event.DirDeleted, e.watch.Path(), true, true), e.watch)
				return
			}
			diff := e.differ.Compute(prev, cur)
			for _, ev := range diff.Events {
				e.queue.Put(ev, e.watch)
			}
			prev = cur
		}
	}
}

// Stop signals the tick loop to exit. It does not block for the
// goroutine to finish.
func (e *Emitter) Stop() error {
	if !e.started {
		return nil
	}
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	return nil
}

// Wait blocks until the tick loop has fully exited. Used by tests and by
// callers that need a hard guarantee beyond Stop's fire-and-forget signal.
func (e *Emitter) Wait() {
	e.wg.Wait()
}
