//go:build windows

// Package windows implements the ReadDirectoryChangesW backend: one
// asynchronous read per watched root delivered through an I/O completion
// port, with RENAMED_OLD_NAME/RENAMED_NEW_NAME pairs within a single
// buffer collapsed into Moved. Built on golang.org/x/sys/windows's
// CreateIoCompletionPort / GetQueuedCompletionStatus /
// PostQueuedCompletionStatus surface.
package windows

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
	"unicode/utf16"

	"golang.org/x/sys/windows"

	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/snapshot"
)

const defaultBufferSize = 64 * 1024

const notifyMask = windows.FILE_NOTIFY_CHANGE_FILE_NAME |
	windows.FILE_NOTIFY_CHANGE_DIR_NAME |
	windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
	windows.FILE_NOTIFY_CHANGE_SIZE |
	windows.FILE_NOTIFY_CHANGE_LAST_WRITE |
	windows.FILE_NOTIFY_CHANGE_CREATION

const (
	actionAdded      = 1
	actionRemoved    = 2
	actionModified   = 3
	actionRenamedOld = 4
	actionRenamedNew = 5
)

const stopCompletionKey = ^uintptr(0)

// Options configures a Windows Emitter.
type Options struct {
	// BufferSize is the read buffer in bytes. Default 64 KiB.
	BufferSize uint32
	// RenameGraceWindow bounds how long a lone RENAMED_OLD_NAME across
	// buffers waits for its RENAMED_NEW_NAME partner before being
	// emitted as Deleted.
	RenameGraceWindow time.Duration
}

func (o Options) bufferSize() uint32 {
	if o.BufferSize == 0 {
		return defaultBufferSize
	}
	return o.BufferSize
}

func (o Options) graceWindow() time.Duration {
	if o.RenameGraceWindow <= 0 {
		return 50 * time.Millisecond
	}
	return o.RenameGraceWindow
}

// Emitter is the ReadDirectoryChangesW-backed backend.Emitter for one
// watch.
type Emitter struct {
	watch event.ObservedWatch
	queue backend.Queue
	log   backend.Logger
	opts  Options

	dirHandle  windows.Handle
	cph        windows.Handle
	buf        []byte
	overlapped windows.Overlapped

	baseline *snapshot.Baseline
	differ   snapshot.Differ

	mu             sync.Mutex
	pendingOldName string
	pendingTimer   *time.Timer

	wg      sync.WaitGroup
	started bool
}

// New constructs a Windows Emitter for watch.
func New(watch event.ObservedWatch, queue backend.Queue, log backend.Logger, opts Options) (*Emitter, error) {
	pathPtr, err := windows.UTF16PtrFromString(watch.Path())
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(
		pathPtr,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		if isResourceExhausted(err) {
			return nil, fmt.Errorf("windows: open %s: %w", watch.Path(), errors.Join(backend.ErrResourceExhausted, err))
		}
		return nil, fmt.Errorf("windows: open %s: %w", watch.Path(), err)
	}

	cph, err := windows.CreateIoCompletionPort(h, 0, 0, 1)
	if err != nil {
		windows.CloseHandle(h)
		if isResourceExhausted(err) {
			return nil, fmt.Errorf("windows: create completion port for %s: %w", watch.Path(), errors.Join(backend.ErrResourceExhausted, err))
		}
		return nil, fmt.Errorf("windows: create completion port: %w", err)
	}

	return &Emitter{
		watch:     watch,
		queue:     queue,
		log:       log,
		opts:      opts,
		dirHandle: h,
		cph:       cph,
		buf:       make([]byte, opts.bufferSize()),
	}, nil
}

// isResourceExhausted reports whether err is Windows refusing a handle
// or completion-port slot for resource reasons rather than some other
// CreateFile/CreateIoCompletionPort failure.
func isResourceExhausted(err error) bool {
	return errors.Is(err, windows.ERROR_TOO_MANY_OPEN_FILES) || errors.Is(err, windows.ERROR_NOT_ENOUGH_QUOTA)
}

func (e *Emitter) Watch() event.ObservedWatch { return e.watch }

func (e *Emitter) Start() error {
	if e.started {
		return nil
	}
	e.started = true

	w := &snapshot.Walker{}
	if snap, err := w.Walk(e.watch.Path(), e.watch.Recursive()); err == nil {
		e.baseline = snapshot.NewBaseline(snap)
	} else {
		e.baseline = snapshot.NewBaseline(snapshot.Empty(e.watch.Path()))
	}

	if err := e.issueRead(); err != nil {
		e.started = false
		e.closeHandles()
		return err
	}

	e.wg.Add(1)
	go e.run()
	return nil
}

func (e *Emitter) issueRead() error {
	var n uint32
	return windows.ReadDirectoryChangesW(
		e.dirHandle,
		&e.buf[0],
		uint32(len(e.buf)),
		e.watch.Recursive(),
		uint32(notifyMask),
		&n,
		&e.overlapped,
		0,
	)
}

func (e *Emitter) run() {
	defer e.wg.Done()

	for {
		var n uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(e.cph, &n, &key, &ov, windows.INFINITE)
		if key == stopCompletionKey {
			e.closeHandles()
			return
		}
		if err != nil {
			// A failed dequeue on a live port means the directory handle
			// went stale underneath us, which is how root deletion
			// surfaces on an overlapped read.
			if e.log != nil {
				e.log.Errorf("windows: %v", errors.Join(backend.ErrWatchVanished, fmt.Errorf("%s: %w", e.watch.Path(), err)))
			}
			e.emit(event.New(event.DirDeleted, e.watch.Path(), true, false))
			e.closeHandles()
			return
		}
		if n == 0 {
			// Overflow: the buffer filled between reads. Report the loss
			// with one synthetic marker, then resynchronize by diffing a
			// fresh walk against the delivered-state baseline.
			if e.log != nil {
				e.log.Warnf("windows: notification buffer overflow on %s, resynchronizing", e.watch.Path())
			}
			e.emit(event.New(event.DirModified, e.watch.Path(), true, true))
			e.catchUp()
		} else {
			e.handleBuffer(e.buf[:n])
		}
		if err := e.issueRead(); err != nil {
			if e.log != nil {
				e.log.Errorf("windows: %v", errors.Join(backend.ErrWatchVanished, fmt.Errorf("%s: %w", e.watch.Path(), err)))
			}
			e.emit(event.New(event.DirDeleted, e.watch.Path(), true, false))
			e.closeHandles()
			return
		}
	}
}

func (e *Emitter) handleBuffer(buf []byte) {
	offset := 0
	var pendingOld string
	havePendingOld := false

	for offset+12 <= len(buf) {
		nextOffset := binary.LittleEndian.Uint32(buf[offset:])
		action := binary.LittleEndian.Uint32(buf[offset+4:])
		nameLen := binary.LittleEndian.Uint32(buf[offset+8:])
		nameStart := offset + 12
		nameEnd := nameStart + int(nameLen)
		if nameEnd > len(buf) {
			break
		}
		name := decodeUTF16Name(buf[nameStart:nameEnd])
		path := e.watch.Path() + "\\" + name

		switch action {
		case actionAdded:
			isDir := e.isDir(path)
			e.emit(event.New(kindFor(event.FileCreated, event.DirCreated, isDir), path, isDir, false))
		case actionRemoved:
			// The entry is already gone; its type can no longer be
			// recovered, so removals are reported as file events.
			e.emit(event.New(event.FileDeleted, path, false, false))
		case actionModified:
			isDir := e.isDir(path)
			e.emit(event.New(kindFor(event.FileModified, event.DirModified, isDir), path, isDir, false))
		case actionRenamedOld:
			pendingOld = path
			havePendingOld = true
		case actionRenamedNew:
			if havePendingOld {
				e.emit(event.NewMoved(pendingOld, path, e.isDir(path), false))
				havePendingOld = false
			} else {
				e.handleCrossBufferRenameNew(path)
			}
		}

		if nextOffset == 0 {
			break
		}
		offset += int(nextOffset)
	}

	if havePendingOld {
		e.handleCrossBufferRenameOld(pendingOld)
	}
}

// handleCrossBufferRenameOld holds a lone RENAMED_OLD_NAME for a short
// grace window; if no RENAMED_NEW_NAME arrives in a later buffer it is
// emitted as Deleted.
func (e *Emitter) handleCrossBufferRenameOld(path string) {
	e.mu.Lock()
	e.pendingOldName = path
	if e.pendingTimer != nil {
		e.pendingTimer.Stop()
	}
	e.pendingTimer = time.AfterFunc(e.opts.graceWindow(), func() {
		e.mu.Lock()
		stillPending := e.pendingOldName == path
		if stillPending {
			e.pendingOldName = ""
		}
		e.mu.Unlock()
		if stillPending {
			e.emit(event.New(event.FileDeleted, path, false, false))
		}
	})
	e.mu.Unlock()
}

func (e *Emitter) handleCrossBufferRenameNew(path string) {
	e.mu.Lock()
	old := e.pendingOldName
	e.pendingOldName = ""
	if e.pendingTimer != nil {
		e.pendingTimer.Stop()
	}
	e.mu.Unlock()

	if old != "" {
		e.emit(event.NewMoved(old, path, e.isDir(path), false))
	} else {
		isDir := e.isDir(path)
		e.emit(event.New(kindFor(event.FileCreated, event.DirCreated, isDir), path, isDir, false))
	}
}

func (e *Emitter) isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func kindFor(file, dir event.Kind, isDir bool) event.Kind {
	if isDir {
		return dir
	}
	return file
}

// catchUp diffs a fresh walk against the baseline of what has actually
// been delivered and emits the synthetic difference, then retains the
// new walk for the next resynchronization.
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

func decodeUTF16Name(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
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

// Stop posts a sentinel completion packet so the completion-status loop
// wakes and exits.
func (e *Emitter) Stop() error {
	if !e.started {
		return nil
	}
	return windows.PostQueuedCompletionStatus(e.cph, 0, stopCompletionKey, nil)
}

func (e *Emitter) closeHandles() {
	windows.CloseHandle(e.dirHandle)
	windows.CloseHandle(e.cph)
}

// Wait blocks until the completion-status loop has fully exited.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

var _ backend.Emitter = (*Emitter)(nil)
