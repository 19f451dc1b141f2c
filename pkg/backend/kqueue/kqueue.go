//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package kqueue implements the BSD/macOS descriptor-per-entry backend:
// one open file descriptor and one EVFILT_VNODE registration per watched
// file or directory, with directory writes resolved by re-listing and
// diffing against the previously recorded child set.
package kqueue

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/snapshot"
)

const watchFlags = unix.NOTE_WRITE | unix.NOTE_EXTEND | unix.NOTE_DELETE | unix.NOTE_RENAME | unix.NOTE_ATTRIB

// sentinelIdent is the EVFILT_USER ident used purely to wake the kevent
// wait on Stop.
const sentinelIdent = 0

// Options configures a kqueue Emitter. Currently empty; reserved for
// future descriptor-budget tuning.
type Options struct{}

type watched struct {
	path  string
	file  *os.File
	isDir bool
	// children is only populated for directories, recording the last
	// known child-name set for mini-diffing on NOTE_WRITE.
	children map[string]snapshot.Entry
}

// Emitter is the kqueue-backed backend.Emitter for one watch.
type Emitter struct {
	watch event.ObservedWatch
	queue backend.Queue
	log   backend.Logger

	kq int

	mu          sync.Mutex
	byFd        map[int]*watched
	byPath      map[string]*watched
	atDescLimit bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New constructs a kqueue Emitter for watch.
func New(watch event.ObservedWatch, queue backend.Queue, log backend.Logger, _ Options) (*Emitter, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		if isResourceExhausted(err) {
			return nil, fmt.Errorf("kqueue: open for %s: %w", watch.Path(), errors.Join(backend.ErrResourceExhausted, err))
		}
		return nil, fmt.Errorf("kqueue: open: %w", err)
	}
	sentinel := []unix.Kevent_t{{Filter: unix.EVFILT_USER, Flags: unix.EV_ADD | unix.EV_CLEAR}}
	sentinel[0].Ident = sentinelIdent
	if _, err := unix.Kevent(kq, sentinel, nil, nil); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("kqueue: register sentinel: %w", err)
	}
	return &Emitter{
		watch:  watch,
		queue:  queue,
		log:    log,
		kq:     kq,
		byFd:   make(map[int]*watched),
		byPath: make(map[string]*watched),
		stopCh: make(chan struct{}),
	}, nil
}

func (e *Emitter) Watch() event.ObservedWatch { return e.watch }

func (e *Emitter) Start() error {
	if e.started {
		return nil
	}
	e.started = true

	w := &snapshot.Walker{}
	snap, err := w.Walk(e.watch.Path(), e.watch.Recursive())
	if err != nil {
		e.started = false
		unix.Close(e.kq)
		return err
	}
	for _, entry := range snap.Entries() {
		if err := e.register(entry.Path, entry.Type == snapshot.TypeDir); err != nil {
			if e.log != nil {
				e.log.Warnf("kqueue: register %s: %v", entry.Path, err)
			}
		}
	}
	for path, w := range e.byPath {
		if w.isDir {
			w.children = childSet(snap, path)
		}
	}

	e.wg.Add(1)
	go e.run()
	return nil
}

func childSet(snap *snapshot.Snapshot, dir string) map[string]snapshot.Entry {
	out := make(map[string]snapshot.Entry)
	for _, e := range snap.Entries() {
		if parentOf(e.Path) == dir {
			out[e.Path] = e
		}
	}
	return out
}

func parentOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return path
}

// register opens path and adds an EVFILT_VNODE registration for it. On
// EMFILE it marks the emitter at its descriptor limit and reports a
// warning rather than failing the whole watch.
func (e *Emitter) register(path string, isDir bool) error {
	e.mu.Lock()
	atLimit := e.atDescLimit
	e.mu.Unlock()
	if atLimit {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if isResourceExhausted(err) {
			e.mu.Lock()
			e.atDescLimit = true
			e.mu.Unlock()
			if e.log != nil {
				e.log.Warnf("kqueue: %v, no longer registering new entries under %s",
					errors.Join(backend.ErrResourceExhausted, err), e.watch.Path())
			}
			return nil
		}
		return err
	}
	kev := []unix.Kevent_t{{Filter: unix.EVFILT_VNODE, Flags: unix.EV_ADD | unix.EV_CLEAR, Fflags: watchFlags}}
	kev[0].Ident = uint64(f.Fd())
	if _, err := unix.Kevent(e.kq, kev, nil, nil); err != nil {
		f.Close()
		if isResourceExhausted(err) {
			e.mu.Lock()
			e.atDescLimit = true
			e.mu.Unlock()
			if e.log != nil {
				e.log.Warnf("kqueue: %v, no longer registering new entries under %s",
					errors.Join(backend.ErrResourceExhausted, err), e.watch.Path())
			}
			return nil
		}
		return err
	}

	w := &watched{path: path, file: f, isDir: isDir}
	e.mu.Lock()
	e.byFd[int(f.Fd())] = w
	e.byPath[path] = w
	e.mu.Unlock()
	return nil
}

// isResourceExhausted reports whether err is the kernel refusing a new
// descriptor rather than some other kevent/open failure.
func isResourceExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}

func (e *Emitter) unregister(w *watched) {
	e.mu.Lock()
	delete(e.byFd, int(w.file.Fd()))
	delete(e.byPath, w.path)
	e.mu.Unlock()
	w.file.Close()
}

func (e *Emitter) run() {
	defer e.wg.Done()

	events := make([]unix.Kevent_t, 16)
	for {
		n, err := unix.Kevent(e.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			if events[i].Filter == unix.EVFILT_USER && events[i].Ident == sentinelIdent {
				e.drainAndClose()
				return
			}
			e.handle(events[i])
		}
		select {
		case <-e.stopCh:
			e.drainAndClose()
			return
		default:
		}
	}
}

func (e *Emitter) handle(kev unix.Kevent_t) {
	e.mu.Lock()
	w, ok := e.byFd[int(kev.Ident)]
	e.mu.Unlock()
	if !ok {
		return
	}

	flags := kev.Fflags
	switch {
	case flags&unix.NOTE_DELETE != 0:
		e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, w.isDir), w.path, w.isDir, false))
		e.unregister(w)
		if w.path == e.watch.Path() {
			if e.log != nil {
				e.log.Errorf("kqueue: %v", errors.Join(backend.ErrWatchVanished, fmt.Errorf("%s", w.path)))
			}
			e.Stop()
		}
	case flags&unix.NOTE_RENAME != 0:
		e.handleRename(w)
	case flags&unix.NOTE_WRITE != 0 && w.isDir:
		// A write on a directory watched only because it sits directly
		// under a non-recursive root means its contents changed, but
		// those contents are below the root and out of scope.
		if e.watch.Recursive() || w.path == e.watch.Path() {
			e.diffDirectory(w)
		} else {
			e.emit(event.New(event.DirModified, w.path, true, false))
		}
	case flags&(unix.NOTE_WRITE|unix.NOTE_EXTEND|unix.NOTE_ATTRIB) != 0:
		e.emit(event.New(kindFor(event.FileModified, event.DirModified, w.isDir), w.path, w.isDir, false))
	}
}

// handleRename walks the parent directory looking for the watched
// file's identity under a new name; if found, emits Moved, otherwise
// treats it as having left the watched subtree and emits Deleted.
func (e *Emitter) handleRename(w *watched) {
	parent := parentOf(w.path)
	pw := &snapshot.Walker{}
	snap, err := pw.Walk(parent, false)
	if err != nil {
		e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, w.isDir), w.path, w.isDir, false))
		e.unregister(w)
		return
	}
	// The open descriptor still refers to the renamed entry, so its
	// inode is the key that finds the new name.
	if info, statErr := w.file.Stat(); statErr == nil {
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			for _, entry := range snap.Entries() {
				if entry.Path != w.path && entry.Identity.Inode == st.Ino {
					e.emit(event.NewMoved(w.path, entry.Path, w.isDir, false))
					e.mu.Lock()
					delete(e.byPath, w.path)
					w.path = entry.Path
					e.byPath[entry.Path] = w
					e.mu.Unlock()
					return
				}
			}
		}
	}
	e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, w.isDir), w.path, w.isDir, false))
	e.unregister(w)
}

// diffDirectory re-lists w's directory and mini-diffs it against the
// last known child set, emitting Created/Deleted for the difference and
// registering/closing descriptors to match.
func (e *Emitter) diffDirectory(w *watched) {
	dw := &snapshot.Walker{}
	snap, err := dw.Walk(w.path, false)
	if err != nil {
		return
	}
	cur := childSet(snap, w.path)

	for path, entry := range cur {
		if _, existed := w.children[path]; !existed {
			isDir := entry.Type == snapshot.TypeDir
			e.emit(event.New(kindFor(event.FileCreated, event.DirCreated, isDir), path, isDir, false))
			if err := e.register(path, isDir); err != nil && e.log != nil {
				e.log.Warnf("kqueue: register %s: %v", path, err)
			}
		}
	}
	for path, entry := range w.children {
		if _, stillThere := cur[path]; !stillThere {
			isDir := entry.Type == snapshot.TypeDir
			e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, isDir), path, isDir, false))
			e.mu.Lock()
			child, ok := e.byPath[path]
			e.mu.Unlock()
			if ok {
				e.unregister(child)
			}
		}
	}
	w.children = cur
}

func kindFor(file, dir event.Kind, isDir bool) event.Kind {
	if isDir {
		return dir
	}
	return file
}

func (e *Emitter) emit(ev event.Event) {
	e.queue.Put(ev, e.watch)
}

func (e *Emitter) drainAndClose() {
	e.mu.Lock()
	watches := make([]*watched, 0, len(e.byFd))
	for _, w := range e.byFd {
		watches = append(watches, w)
	}
	e.mu.Unlock()
	for _, w := range watches {
		w.file.Close()
	}
	unix.Close(e.kq)
}

// Stop signals the kevent wait loop to exit via the EVFILT_USER
// sentinel registered at construction time.
func (e *Emitter) Stop() error {
	if !e.started {
		return nil
	}
	select {
	case <-e.stopCh:
		return nil
	default:
		close(e.stopCh)
	}
	trigger := []unix.Kevent_t{{Filter: unix.EVFILT_USER, Fflags: unix.NOTE_TRIGGER}}
	trigger[0].Ident = sentinelIdent
	unix.Kevent(e.kq, trigger, nil, nil)
	return nil
}

// Wait blocks until the kevent loop has fully exited.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

var _ backend.Emitter = (*Emitter)(nil)
