//go:build darwin

// Package fsevents implements the macOS backend: one event stream per
// watch, flag-bundle resolution against stat-based ground truth when the
// kernel coalesces several distinct changes into one notification, and
// adjacency-based rename pairing. Built on github.com/fsnotify/fsevents,
// the cgo binding over macOS's FSEventStream API.
package fsevents

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsevents"

	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/snapshot"
)

// Options configures an FSEvents Emitter.
type Options struct {
	// Latency batches events arriving within this window. Zero asks the
	// kernel for immediate delivery.
	Latency time.Duration
}

// Emitter is the FSEvents-backed backend.Emitter for one watch.
type Emitter struct {
	watch  event.ObservedWatch
	queue  backend.Queue
	log    backend.Logger
	stream *fsevents.EventStream

	pendingRenameID   uint64
	pendingRenamePath string
	pendingRenameDir  bool

	baseline *snapshot.Baseline
	differ   snapshot.Differ

	done chan struct{}
}

// New constructs an FSEvents Emitter for watch. It fails when the
// FSEvents service cannot resolve the watched path's device, the
// observable "FSEvents unavailable" condition the platform factory
// falls back to kqueue on.
func New(watch event.ObservedWatch, queue backend.Queue, log backend.Logger, opts Options) (*Emitter, error) {
	if _, err := fsevents.DeviceForPath(watch.Path()); err != nil {
		return nil, fmt.Errorf("fsevents: resolve device for %s: %w", watch.Path(), err)
	}
	stream := &fsevents.EventStream{
		Paths:   []string{watch.Path()},
		Latency: opts.Latency,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot,
		EventID: fsevents.LatestEventID(),
	}
	return &Emitter{
		watch:  watch,
		queue:  queue,
		log:    log,
		stream: stream,
		done:   make(chan struct{}),
	}, nil
}

func (e *Emitter) Watch() event.ObservedWatch { return e.watch }

func (e *Emitter) Start() error {
	w := &snapshot.Walker{}
	if snap, err := w.Walk(e.watch.Path(), e.watch.Recursive()); err == nil {
		e.baseline = snapshot.NewBaseline(snap)
	} else {
		e.baseline = snapshot.NewBaseline(snapshot.Empty(e.watch.Path()))
	}
	if err := e.stream.Start(); err != nil {
		return fmt.Errorf("fsevents: start stream on %s: %w", e.watch.Path(), err)
	}
	go e.run()
	return nil
}

func (e *Emitter) run() {
	for {
		select {
		case events, ok := <-e.stream.Events:
			if !ok {
				return
			}
			for _, ev := range events {
				e.handle(ev)
			}
			e.flushPendingRename()
		case <-e.done:
			return
		}
	}
}

func (e *Emitter) handle(ev fsevents.Event) {
	switch {
	case ev.Flags&fsevents.MustScanSubDirs != 0, ev.Flags&fsevents.EventIDsWrapped != 0:
		e.catchUp()
		return
	case ev.Flags&(fsevents.KernelDropped|fsevents.UserDropped) != 0:
		if e.log != nil {
			e.log.Warnf("fsevents: dropped events on %s, resynchronizing", e.watch.Path())
		}
		e.catchUp()
		return
	case ev.Flags&fsevents.RootChanged != 0:
		// RootChanged also fires when the root is created or moved back
		// into place; only a missing root is terminal.
		if _, err := os.Lstat(e.watch.Path()); err != nil {
			if e.log != nil {
				e.log.Errorf("fsevents: %v", errors.Join(backend.ErrWatchVanished, fmt.Errorf("%s", e.watch.Path())))
			}
			e.emit(event.New(event.DirDeleted, e.watch.Path(), true, false))
			e.Stop()
		}
		return
	}

	if !e.watch.Recursive() && !isDirectChild(e.watch.Path(), ev.Path) {
		return
	}

	if ev.Flags&fsevents.ItemRenamed != 0 {
		e.handleRename(ev)
		return
	}

	isDir := ev.Flags&fsevents.ItemIsDir != 0
	info, statErr := os.Lstat(ev.Path)
	exists := statErr == nil

	switch {
	case ev.Flags&fsevents.ItemCreated != 0 && exists:
		e.emit(event.New(kindFor(event.FileCreated, event.DirCreated, isDir), ev.Path, isDir, false))
	case ev.Flags&fsevents.ItemRemoved != 0 && !exists:
		e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, isDir), ev.Path, isDir, false))
	case ev.Flags&(fsevents.ItemModified|fsevents.ItemInodeMetaMod|fsevents.ItemXattrMod|fsevents.ItemChangeOwner|fsevents.ItemFinderInfoMod) != 0 && exists:
		e.emit(event.New(kindFor(event.FileModified, event.DirModified, isDir), ev.Path, isDir, false))
	default:
		// A coalesced bundle that doesn't map cleanly onto the flags
		// above: fall back to ground truth. If the path exists now but
		// didn't carry Created, treat it as Modified; if it doesn't
		// exist, treat it as Deleted, matching the entry type FSEvents
		// itself reported.
		if exists {
			e.emit(event.New(kindFor(event.FileModified, event.DirModified, isDir), ev.Path, isDir, false))
		} else {
			e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, isDir), ev.Path, isDir, false))
		}
	}
}

// handleRename pairs FSEvents' two consecutive ItemRenamed notifications
// by adjacency (id_b == id_a + 1).
func (e *Emitter) handleRename(ev fsevents.Event) {
	isDir := ev.Flags&fsevents.ItemIsDir != 0

	if e.pendingRenameID != 0 && ev.ID == e.pendingRenameID+1 {
		e.emit(event.NewMoved(e.pendingRenamePath, ev.Path, isDir, false))
		e.pendingRenameID = 0
		e.pendingRenamePath = ""
		return
	}

	e.flushPendingRename()
	e.pendingRenameID = ev.ID
	e.pendingRenamePath = ev.Path
	e.pendingRenameDir = isDir
}

// flushPendingRename resolves a rename notification whose adjacent
// partner never arrived: the endpoint inside the watched tree is all we
// have, so ground truth decides whether it was the source (now gone,
// Deleted) or the destination (now present, Created) of a rename that
// crossed the watch boundary.
func (e *Emitter) flushPendingRename() {
	if e.pendingRenameID == 0 {
		return
	}
	path, isDir := e.pendingRenamePath, e.pendingRenameDir
	e.pendingRenameID = 0
	e.pendingRenamePath = ""
	if _, err := os.Lstat(path); err != nil {
		e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, isDir), path, isDir, false))
	} else {
		e.emit(event.New(kindFor(event.FileCreated, event.DirCreated, isDir), path, isDir, false))
	}
}

func isDirectChild(root, path string) bool {
	if path == root {
		return true
	}
	rest := strings.TrimPrefix(path, root+"/")
	if rest == path {
		return false
	}
	return !strings.Contains(rest, "/")
}

func kindFor(file, dir event.Kind, isDir bool) event.Kind {
	if isDir {
		return dir
	}
	return file
}

// catchUp diffs a fresh walk of the watched subtree against the
// baseline of what has actually been delivered and emits the synthetic
// difference, the same resynchronization semantics the polling backend
// uses for its ticks.
func (e *Emitter) catchUp() {
	if e.baseline == nil {
		return
	}
	w := &snapshot.Walker{}
	cur, err := w.Walk(e.watch.Path(), e.watch.Recursive())
	if err != nil {
		return
	}
	diff := e.differ.Compute(e.baseline.Snapshot(), cur)
	for _, ev := range diff.Events {
		e.emit(ev)
	}
	e.baseline.Reset(cur)
}

// emit queues ev and folds it into the baseline, so the next catch-up
// diff starts from the state handlers have already seen.
func (e *Emitter) emit(ev event.Event) {
	e.applyToBaseline(ev)
	e.queue.Put(ev, e.watch)
}

func (e *Emitter) applyToBaseline(ev event.Event) {
	if e.baseline == nil {
		return
	}
	switch ev.Kind {
	case event.FileCreated, event.DirCreated, event.FileModified, event.DirModified:
		e.baseline.Record(ev.SrcPath)
	case event.FileDeleted, event.DirDeleted:
		e.baseline.Drop(ev.SrcPath)
	case event.FileMoved, event.DirMoved:
		e.baseline.Rename(ev.SrcPath, ev.DestPath)
	}
}

// Stop stops the underlying FSEventStream's run loop and signals the
// consumer goroutine to exit.
func (e *Emitter) Stop() error {
	if e.stream != nil {
		e.stream.Stop()
	}
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	return nil
}

var _ backend.Emitter = (*Emitter)(nil)
