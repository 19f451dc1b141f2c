//go:build darwin

package fsevents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsevents"
	"github.com/stretchr/testify/require"

	"github.com/gorakhargosh/watchdog/pkg/event"
)

type recordingQueue struct {
	events []event.Event
}

func (q *recordingQueue) Put(e event.Event, _ event.ObservedWatch) {
	q.events = append(q.events, e)
}

func newTestEmitter(t *testing.T, q *recordingQueue, root string, recursive bool) *Emitter {
	return &Emitter{
		watch: event.NewObservedWatch(root, recursive, nil),
		queue: q,
		done:  make(chan struct{}),
	}
}

func TestHandle_CreatedFlagWithExistingPathEmitsCreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	q := &recordingQueue{}
	e := newTestEmitter(t, q, dir, true)

	e.handle(fsevents.Event{ID: 1, Path: path, Flags: fsevents.ItemCreated})

	require.Len(t, q.events, 1)
	require.Equal(t, event.FileCreated, q.events[0].Kind)
	require.Equal(t, path, q.events[0].SrcPath)
}

func TestHandle_RemovedFlagWithMissingPathEmitsDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")

	q := &recordingQueue{}
	e := newTestEmitter(t, q, dir, true)

	e.handle(fsevents.Event{ID: 1, Path: path, Flags: fsevents.ItemRemoved})

	require.Len(t, q.events, 1)
	require.Equal(t, event.FileDeleted, q.events[0].Kind)
}

func TestHandle_AdjacentRenamedEventsPairAsMoved(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.txt")
	newPath := filepath.Join(dir, "new.txt")

	q := &recordingQueue{}
	e := newTestEmitter(t, q, dir, true)

	e.handle(fsevents.Event{ID: 5, Path: oldPath, Flags: fsevents.ItemRenamed})
	require.Empty(t, q.events)

	e.handle(fsevents.Event{ID: 6, Path: newPath, Flags: fsevents.ItemRenamed})

	require.Len(t, q.events, 1)
	require.Equal(t, event.FileMoved, q.events[0].Kind)
	require.Equal(t, oldPath, q.events[0].SrcPath)
	require.Equal(t, newPath, q.events[0].DestPath)
}

func TestHandle_NonRecursiveWatchIgnoresGrandchildPaths(t *testing.T) {
	dir := t.TempDir()
	grandchild := filepath.Join(dir, "sub", "deep.txt")

	q := &recordingQueue{}
	e := newTestEmitter(t, q, dir, false)

	e.handle(fsevents.Event{ID: 1, Path: grandchild, Flags: fsevents.ItemCreated})

	require.Empty(t, q.events)
}

func TestHandle_RootChangedWithMissingRootEmitsTerminalDirDeleted(t *testing.T) {
	dir := t.TempDir()
	q := &recordingQueue{}
	e := newTestEmitter(t, q, dir, true)
	require.NoError(t, os.RemoveAll(dir))

	e.handle(fsevents.Event{ID: 1, Path: e.watch.Path(), Flags: fsevents.RootChanged})

	require.Len(t, q.events, 1)
	require.Equal(t, event.DirDeleted, q.events[0].Kind)
}

func TestHandle_RootChangedWithLiveRootEmitsNothing(t *testing.T) {
	dir := t.TempDir()
	q := &recordingQueue{}
	e := newTestEmitter(t, q, dir, true)

	e.handle(fsevents.Event{ID: 1, Path: e.watch.Path(), Flags: fsevents.RootChanged})

	require.Empty(t, q.events)
}
