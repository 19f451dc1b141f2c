//go:build linux

// Package inotify implements the Linux backend: one inotify file
// descriptor per emitter, a watch-descriptor-to-path map kept in sync as
// directories come and go, and cookie-correlated rename pairing through
// a short delay window. Built on golang.org/x/sys/unix's raw inotify
// syscalls.
package inotify

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gorakhargosh/watchdog/internal/bricks"
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/snapshot"
)

// watchMask requests attribute, content,
// structural, lifecycle, and overflow notifications on every watched
// directory.
const watchMask = unix.IN_ATTRIB | unix.IN_MODIFY | unix.IN_CREATE | unix.IN_DELETE |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_DELETE_SELF | unix.IN_MOVE_SELF |
	unix.IN_CLOSE_WRITE | unix.IN_CLOSE_NOWRITE | unix.IN_OPEN | unix.IN_Q_OVERFLOW

// Options configures an inotify Emitter.
type Options struct {
	// MoveWindow is how long a lone MOVED_FROM waits for its MOVED_TO
	// partner before being re-emitted as Deleted. Default 10ms. Widening
	// it trades promptness for fewer delete+create splits on slow
	// cross-filesystem renames.
	MoveWindow time.Duration
	// EmitOpenClose gates whether IN_OPEN/IN_CLOSE_WRITE/IN_CLOSE_NOWRITE
	// notifications are translated into FileOpened/FileClosed/
	// FileClosedNoWrite events at all. The mask always requests them
	// from the kernel; this only controls whether handleEvent turns them
	// into canonical events.
	EmitOpenClose bool
}

func (o Options) moveWindow() time.Duration {
	if o.MoveWindow <= 0 {
		return 10 * time.Millisecond
	}
	return o.MoveWindow
}

// Emitter is the inotify-backed backend.Emitter for one watch.
type Emitter struct {
	watch event.ObservedWatch
	queue backend.Queue
	log   backend.Logger
	opts  Options

	fd        int
	pipeRead  int
	pipeWrite int

	mu       sync.Mutex
	wdToPath map[int]string
	pathToWd map[string]int

	baseline *snapshot.Baseline
	differ   snapshot.Differ

	movers *bricks.DelayedQueue[moveCandidate]

	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

type moveCandidate struct {
	cookie  uint32
	srcPath string
	isDir   bool
}

// New constructs an inotify Emitter for watch.
func New(watch event.ObservedWatch, queue backend.Queue, log backend.Logger, opts Options) (*Emitter, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		if isResourceExhausted(err) {
			return nil, fmt.Errorf("inotify: init on %s: %w", watch.Path(), errors.Join(backend.ErrResourceExhausted, err))
		}
		return nil, fmt.Errorf("inotify: init: %w", err)
	}
	pr, pw, err := pipe2()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify: self-pipe: %w", err)
	}
	return &Emitter{
		watch:     watch,
		queue:     queue,
		log:       log,
		opts:      opts,
		fd:        fd,
		pipeRead:  pr,
		pipeWrite: pw,
		wdToPath:  make(map[int]string),
		pathToWd:  make(map[string]int),
		movers:    bricks.NewDelayedQueue[moveCandidate](),
	}, nil
}

func pipe2() (read, write int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func (e *Emitter) Watch() event.ObservedWatch { return e.watch }

// Start adds a watch for the root (and, if recursive, every subdirectory)
// and begins reading inotify events on a background goroutine.
func (e *Emitter) Start() error {
	if e.started {
		return nil
	}
	e.started = true

	if err := e.addTree(e.watch.Path()); err != nil {
		e.started = false
		e.closeFDs()
		return err
	}

	e.wg.Add(2)
	go e.readLoop()
	go e.moveExpiryLoop()
	return nil
}

// addTree registers a watch on root and, if the watch is recursive, every
// directory beneath it, rolling back any watches it already added if a
// later directory fails, so a watch is never partially registered.
func (e *Emitter) addTree(root string) error {
	added := []int{}
	rollback := func() {
		for _, wd := range added {
			unix.InotifyRmWatch(e.fd, uint32(wd))
		}
	}

	w := &snapshot.Walker{}
	snap, err := w.Walk(root, e.watch.Recursive())
	if err != nil {
		return err
	}

	addOne := func(path string) error {
		wd, err := unix.InotifyAddWatch(e.fd, path, watchMask)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.wdToPath[wd] = path
		e.pathToWd[path] = wd
		e.mu.Unlock()
		added = append(added, wd)
		return nil
	}

	if err := addOne(root); err != nil {
		rollback()
		return wrapAddWatchErr(root, err)
	}

	if e.watch.Recursive() {
		for _, entry := range snap.Entries() {
			if entry.Type == snapshot.TypeDir && entry.Path != root {
				if err := addOne(entry.Path); err != nil {
					rollback()
					return wrapAddWatchErr(entry.Path, err)
				}
			}
		}
	}

	e.baseline = snapshot.NewBaseline(snap)
	return nil
}

// wrapAddWatchErr gives a failed inotify_add_watch call a structured
// error a caller can errors.Is against when the cause is resource
// exhaustion (ENOSPC past max_user_watches, or the process's own fd
// limit).
func wrapAddWatchErr(path string, err error) error {
	if isResourceExhausted(err) {
		return fmt.Errorf("inotify: add watch on %s: %w", path, errors.Join(backend.ErrResourceExhausted, err))
	}
	return fmt.Errorf("inotify: add watch on %s: %w", path, err)
}

// isResourceExhausted reports whether err is the kernel telling us a
// watch budget or descriptor budget is spent, rather than some other
// failure (permission denied, path vanished mid-walk, ...).
func isResourceExhausted(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}

func (e *Emitter) readLoop() {
	defer e.wg.Done()

	buf := make([]byte, 64*1024)
	pollFds := []unix.PollFd{
		{Fd: int32(e.fd), Events: unix.POLLIN},
		{Fd: int32(e.pipeRead), Events: unix.POLLIN},
	}

	for {
		pollFds[0].Revents = 0
		pollFds[1].Revents = 0
		n, err := unix.Poll(pollFds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		if pollFds[1].Revents != 0 {
			return
		}
		if pollFds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return
		}
		if pollFds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		nread, err := unix.Read(e.fd, buf)
		if err != nil || nread <= 0 {
			continue
		}
		e.handleBuffer(buf[:nread])
	}
}

const eventHeaderSize = 16

func (e *Emitter) handleBuffer(buf []byte) {
	offset := 0
	for offset+eventHeaderSize <= len(buf) {
		wd := int(int32(binary.LittleEndian.Uint32(buf[offset:])))
		mask := binary.LittleEndian.Uint32(buf[offset+4:])
		cookie := binary.LittleEndian.Uint32(buf[offset+8:])
		nameLen := binary.LittleEndian.Uint32(buf[offset+12:])
		offset += eventHeaderSize

		name := ""
		if nameLen > 0 {
			end := offset + int(nameLen)
			if end > len(buf) {
				break
			}
			raw := buf[offset:end]
			if i := indexByte(raw, 0); i >= 0 {
				raw = raw[:i]
			}
			name = string(raw)
			offset = end
		}

		e.handleEvent(wd, mask, cookie, name)
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func (e *Emitter) handleEvent(wd int, mask uint32, cookie uint32, name string) {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		e.handleOverflow()
		return
	}

	e.mu.Lock()
	dirPath, ok := e.wdToPath[wd]
	e.mu.Unlock()
	if !ok {
		return
	}
	path := dirPath
	if name != "" {
		path = dirPath + "/" + name
	}
	isDir := mask&unix.IN_ISDIR != 0

	switch {
	case mask&unix.IN_CREATE != 0:
		e.emit(event.New(kindFor(event.FileCreated, event.DirCreated, isDir), path, isDir, false))
		if isDir && e.watch.Recursive() {
			e.addSubtreeCatchUp(path)
		}
	case mask&unix.IN_MODIFY != 0 || mask&unix.IN_ATTRIB != 0:
		e.emit(event.New(kindFor(event.FileModified, event.DirModified, isDir), path, isDir, false))
	case mask&unix.IN_CLOSE_WRITE != 0:
		if e.opts.EmitOpenClose {
			e.emit(event.New(kindFor(event.FileClosed, event.DirClosed, isDir), path, isDir, false))
		}
	case mask&unix.IN_CLOSE_NOWRITE != 0:
		if e.opts.EmitOpenClose {
			e.emit(event.New(kindFor(event.FileClosedNoWrite, event.DirClosedNoWrite, isDir), path, isDir, false))
		}
	case mask&unix.IN_OPEN != 0:
		if e.opts.EmitOpenClose {
			e.emit(event.New(kindFor(event.FileOpened, event.DirOpened, isDir), path, isDir, false))
		}
	case mask&unix.IN_MOVED_FROM != 0:
		e.handleMovedFrom(cookie, path, isDir)
	case mask&unix.IN_MOVED_TO != 0:
		e.handleMovedTo(cookie, path, isDir)
	case mask&unix.IN_DELETE != 0:
		e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, isDir), path, isDir, false))
	case mask&unix.IN_DELETE_SELF != 0 || mask&unix.IN_MOVE_SELF != 0:
		if dirPath == e.watch.Path() {
			if e.log != nil {
				e.log.Errorf("inotify: %v", errors.Join(backend.ErrWatchVanished, fmt.Errorf("%s", dirPath)))
			}
			e.emit(event.New(event.DirDeleted, dirPath, true, false))
			e.Stop()
		}
	}
}

func kindFor(file, dir event.Kind, isDir bool) event.Kind {
	if isDir {
		return dir
	}
	return file
}

func (e *Emitter) handleMovedFrom(cookie uint32, path string, isDir bool) {
	e.movers.Put(moveCandidate{cookie: cookie, srcPath: path, isDir: isDir}, e.opts.moveWindow())
}

func (e *Emitter) handleMovedTo(cookie uint32, path string, isDir bool) {
	if cand := e.movers.Remove(func(c moveCandidate) bool { return c.cookie == cookie }); cand != nil {
		e.emit(event.NewMoved(cand.srcPath, path, isDir, false))
		if isDir && e.watch.Recursive() {
			e.rebaseSubtreeWatches(cand.srcPath, path)
		}
		return
	}
	e.emit(event.New(kindFor(event.FileCreated, event.DirCreated, isDir), path, isDir, false))
}

// moveExpiryLoop re-emits any MOVED_FROM candidate whose window expired
// without a matching MOVED_TO as a Deleted event.
func (e *Emitter) moveExpiryLoop() {
	defer e.wg.Done()
	for {
		cand, ok := e.movers.Get()
		if !ok {
			return
		}
		e.emit(event.New(kindFor(event.FileDeleted, event.DirDeleted, cand.isDir), cand.srcPath, cand.isDir, false))
	}
}

// addSubtreeCatchUp registers a watch on a newly created directory, walks
// it and emits synthetic Created events for anything already inside it by
// the time the watch is established, and registers watches on its
// subdirectories.
func (e *Emitter) addSubtreeCatchUp(dir string) {
	if wd, err := unix.InotifyAddWatch(e.fd, dir, watchMask); err == nil {
		e.mu.Lock()
		e.wdToPath[wd] = dir
		e.pathToWd[dir] = wd
		e.mu.Unlock()
	}
	w := &snapshot.Walker{}
	snap, err := w.Walk(dir, true)
	if err != nil {
		return
	}
	for _, entry := range snap.Entries() {
		if entry.Path == dir {
			continue
		}
		isDir := entry.Type == snapshot.TypeDir
		e.emit(event.New(kindFor(event.FileCreated, event.DirCreated, isDir), entry.Path, isDir, true))
		if isDir {
			if wd, err := unix.InotifyAddWatch(e.fd, entry.Path, watchMask); err == nil {
				e.mu.Lock()
				e.wdToPath[wd] = entry.Path
				e.pathToWd[entry.Path] = wd
				e.mu.Unlock()
			}
		}
	}
}

// rebaseSubtreeWatches rewrites the path half of wdToPath/pathToWd for a
// renamed directory and everything beneath it, since inotify keeps
// existing watch descriptors valid across a rename but this emitter
// indexes them by path.
func (e *Emitter) rebaseSubtreeWatches(oldPath, newPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for wd, path := range e.wdToPath {
		if path == oldPath {
			delete(e.pathToWd, path)
			e.wdToPath[wd] = newPath
			e.pathToWd[newPath] = wd
			continue
		}
		if rest, ok := stripPrefix(path, oldPath+"/"); ok {
			newSub := newPath + "/" + rest
			delete(e.pathToWd, path)
			e.wdToPath[wd] = newSub
			e.pathToWd[newSub] = wd
		}
	}
}

func stripPrefix(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

// handleOverflow reports the queue overflow and resynchronizes: it
// diffs a fresh walk against the baseline of what was delivered before
// the kernel started dropping, replays the difference as synthetic
// events, and re-registers watch descriptors for any directory the
// dropped notifications would have covered.
func (e *Emitter) handleOverflow() {
	if e.log != nil {
		e.log.Warnf("inotify: queue overflow on %s, resynchronizing", e.watch.Path())
	}
	w := &snapshot.Walker{}
	cur, err := w.Walk(e.watch.Path(), e.watch.Recursive())
	if err != nil {
		return
	}

	if e.baseline != nil {
		diff := e.differ.Compute(e.baseline.Snapshot(), cur)
		for _, ev := range diff.Events {
			e.emit(ev)
		}
	}

	if e.watch.Recursive() {
		for _, entry := range cur.Entries() {
			if entry.Type != snapshot.TypeDir {
				continue
			}
			e.mu.Lock()
			_, known := e.pathToWd[entry.Path]
			e.mu.Unlock()
			if known {
				continue
			}
			if wd, err := unix.InotifyAddWatch(e.fd, entry.Path, watchMask); err == nil {
				e.mu.Lock()
				e.wdToPath[wd] = entry.Path
				e.pathToWd[entry.Path] = wd
				e.mu.Unlock()
			}
		}
	}

	if e.baseline != nil {
		e.baseline.Reset(cur)
	}
}

// emit queues ev and folds it into the baseline, so an overflow diff
// starts from the state handlers have already seen.
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

// Stop wakes the read loop via the self-pipe and stops the move-expiry
// loop; the inotify descriptor and pipe are released once both loops
// have exited. Safe to call more than once: the root-vanished path stops
// the emitter from inside its own read loop, and the observer stops it
// again during shutdown.
func (e *Emitter) Stop() error {
	if !e.started {
		return nil
	}
	e.stopOnce.Do(func() {
		unix.Write(e.pipeWrite, []byte{0})
		e.movers.Close()
		go func() {
			e.wg.Wait()
			e.closeFDs()
		}()
	})
	return nil
}

func (e *Emitter) closeFDs() {
	unix.Close(e.fd)
	unix.Close(e.pipeRead)
	unix.Close(e.pipeWrite)
}

// Wait blocks until both background goroutines have exited.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

var _ backend.Emitter = (*Emitter)(nil)
