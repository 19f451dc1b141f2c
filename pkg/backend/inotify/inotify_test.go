//go:build linux

package inotify

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/snapshot"
)

type recordingQueue struct {
	mu     sync.Mutex
	events []event.Event
}

func (q *recordingQueue) Put(e event.Event, _ event.ObservedWatch) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

func (q *recordingQueue) snapshot() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]event.Event, len(q.events))
	copy(out, q.events)
	return out
}

func TestEmitter_DetectsFileCreation(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	queue := &recordingQueue{}
	watch := event.NewObservedWatch(dir, true, nil)

	em, err := New(watch, queue, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, em.Start())
	defer func() {
		em.Stop()
		em.Wait()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, e := range queue.snapshot() {
			if e.Kind == event.FileCreated && filepath.Base(e.SrcPath) == "a.txt" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestEmitter_EmitOpenCloseDefaultsToSuppressed(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	queue := &recordingQueue{}
	watch := event.NewObservedWatch(dir, true, nil)

	em, err := New(watch, queue, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, em.Start())
	defer func() {
		em.Stop()
		em.Wait()
	}()

	require.NoError(t, os.WriteFile(path, []byte("xy"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		for _, e := range queue.snapshot() {
			if e.Kind == event.FileModified {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected the write to still be reported while Open/Close stay suppressed")

	for _, e := range queue.snapshot() {
		require.NotContains(t, []event.Kind{event.FileOpened, event.FileClosed, event.FileClosedNoWrite}, e.Kind,
			"EmitOpenClose defaults to false; no Opened/Closed event should ever be queued")
	}
}

func TestEmitter_EmitOpenCloseEmitsWhenEnabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")

	queue := &recordingQueue{}
	watch := event.NewObservedWatch(dir, true, nil)

	em, err := New(watch, queue, nil, Options{EmitOpenClose: true})
	require.NoError(t, err)
	require.NoError(t, em.Start())
	defer func() {
		em.Stop()
		em.Wait()
	}()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		for _, e := range queue.snapshot() {
			if e.Kind == event.FileOpened || e.Kind == event.FileClosedNoWrite {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestEmitter_PairsRenameAsMove(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	old := filepath.Join(dir, "old.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))

	queue := &recordingQueue{}
	watch := event.NewObservedWatch(dir, true, nil)

	em, err := New(watch, queue, nil, Options{MoveWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, em.Start())
	defer func() {
		em.Stop()
		em.Wait()
	}()

	newPath := filepath.Join(dir, "new.txt")
	require.NoError(t, os.Rename(old, newPath))

	require.Eventually(t, func() bool {
		for _, e := range queue.snapshot() {
			if e.Kind == event.FileMoved && e.SrcPath == old && e.DestPath == newPath {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestEmitter_OverflowResynchronizesBySnapshotDiff(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seen.txt"), []byte("x"), 0o644))

	queue := &recordingQueue{}
	watch := event.NewObservedWatch(dir, true, nil)

	// Construct without Start so no kernel notifications compete with
	// the overflow path under test; the baseline is seeded by hand the
	// same way addTree would.
	em, err := New(watch, queue, nil, Options{})
	require.NoError(t, err)
	defer em.closeFDs()

	w := &snapshot.Walker{}
	snap, err := w.Walk(em.watch.Path(), true)
	require.NoError(t, err)
	em.baseline = snapshot.NewBaseline(snap)

	// Mutate the tree behind the emitter's back, standing in for the
	// notifications the kernel dropped on the floor.
	missed := filepath.Join(em.watch.Path(), "missed.txt")
	require.NoError(t, os.WriteFile(missed, []byte("y"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(em.watch.Path(), "seen.txt")))

	em.handleEvent(0, unix.IN_Q_OVERFLOW, 0, "")

	var sawCreated, sawDeleted bool
	for _, e := range queue.snapshot() {
		require.True(t, e.IsSynthetic, "overflow replay events must be synthetic")
		switch {
		case e.Kind == event.FileCreated && e.SrcPath == missed:
			sawCreated = true
		case e.Kind == event.FileDeleted && filepath.Base(e.SrcPath) == "seen.txt":
			sawDeleted = true
		}
	}
	require.True(t, sawCreated, "catch-up diff should report the missed creation")
	require.True(t, sawDeleted, "catch-up diff should report the missed deletion")
}

func TestEmitter_OverflowReplayDoesNotRepeatOnNextOverflow(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	queue := &recordingQueue{}
	watch := event.NewObservedWatch(dir, true, nil)

	em, err := New(watch, queue, nil, Options{})
	require.NoError(t, err)
	defer em.closeFDs()

	w := &snapshot.Walker{}
	snap, err := w.Walk(em.watch.Path(), true)
	require.NoError(t, err)
	em.baseline = snapshot.NewBaseline(snap)

	require.NoError(t, os.WriteFile(filepath.Join(em.watch.Path(), "a.txt"), []byte("x"), 0o644))
	em.handleEvent(0, unix.IN_Q_OVERFLOW, 0, "")
	first := len(queue.snapshot())
	require.Greater(t, first, 0)

	// The baseline was reset to the replayed state, so a second overflow
	// with no further changes has nothing left to report.
	em.handleEvent(0, unix.IN_Q_OVERFLOW, 0, "")
	require.Len(t, queue.snapshot(), first)
}
