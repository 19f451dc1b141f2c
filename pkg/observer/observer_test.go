package observer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/handler"
)

// fakeEmitter is a no-op backend.Emitter used to exercise the observer
// kernel's lifecycle and dispatch logic without touching any real
// filesystem or kernel API.
type fakeEmitter struct {
	watch   event.ObservedWatch
	queue   backend.Queue
	started bool
	stopped bool
}

func (f *fakeEmitter) Watch() event.ObservedWatch { return f.watch }
func (f *fakeEmitter) Start() error               { f.started = true; return nil }
func (f *fakeEmitter) Stop() error                { f.stopped = true; return nil }

func fakeFactory(w event.ObservedWatch, q backend.Queue, _ backend.Logger, _ Options) (backend.Emitter, error) {
	return &fakeEmitter{watch: w, queue: q}, nil
}

type recordingHandler struct {
	mu     sync.Mutex
	events []event.Event
}

func (h *recordingHandler) Dispatch(e event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) snapshot() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.events))
	copy(out, h.events)
	return out
}

func newTestObserver() *Observer {
	opts := DefaultOptions()
	opts.Timeout = 10 * time.Millisecond
	return newObserverWithFactory(opts, nil, fakeFactory)
}

func TestObserver_ScheduleIsIdempotentOnPathAndRecursive(t *testing.T) {
	o := newTestObserver()
	h := &recordingHandler{}

	w1, err := o.Schedule(h, "/tmp/x", true, nil)
	require.NoError(t, err)
	w2, err := o.Schedule(h, "/tmp/x/", true, nil)
	require.NoError(t, err)

	require.True(t, w1.Equal(w2))
}

func TestObserver_StartEmitsForPreScheduledWatches(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newTestObserver()
	h := &recordingHandler{}

	w, err := o.Schedule(h, "/tmp/x", true, nil)
	require.NoError(t, err)
	require.NoError(t, o.Start())
	defer func() {
		o.Stop()
		o.Join(time.Second)
	}()

	em, ok := o.registry.emitterFor(w)
	require.True(t, ok)
	require.True(t, em.(*fakeEmitter).started)
}

func TestObserver_DispatchesQueuedEventToHandler(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newTestObserver()
	h := &recordingHandler{}

	w, err := o.Schedule(h, "/tmp/x", true, nil)
	require.NoError(t, err)
	require.NoError(t, o.Start())
	defer func() {
		o.Stop()
		o.Join(time.Second)
	}()

	o.queue.Put(event.New(event.FileCreated, "/tmp/x/a.txt", false, false), w)

	require.Eventually(t, func() bool {
		return len(h.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestObserver_HandlerFilterSuppressesUnwantedKinds(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newTestObserver()
	h := &recordingHandler{}

	filter := event.NewFilterSet(event.FileDeleted)
	w, err := o.Schedule(h, "/tmp/x", true, filter)
	require.NoError(t, err)
	require.NoError(t, o.Start())
	defer func() {
		o.Stop()
		o.Join(time.Second)
	}()

	o.queue.Put(event.New(event.FileCreated, "/tmp/x/a.txt", false, false), w)
	o.queue.Put(event.New(event.FileDeleted, "/tmp/x/a.txt", false, false), w)

	require.Eventually(t, func() bool {
		evs := h.snapshot()
		return len(evs) == 1 && evs[0].Kind == event.FileDeleted
	}, time.Second, 5*time.Millisecond)
}

func TestObserver_RemovingLastHandlerUnschedulesAndStopsEmitter(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newTestObserver()
	h := &recordingHandler{}

	w, err := o.Schedule(h, "/tmp/x", true, nil)
	require.NoError(t, err)
	require.NoError(t, o.Start())
	em, _ := o.registry.emitterFor(w)

	require.NoError(t, o.RemoveHandlerForWatch(h, w))
	require.True(t, em.(*fakeEmitter).stopped)

	_, ok := o.registry.emitterFor(w)
	require.False(t, ok)

	o.Stop()
	o.Join(time.Second)
}

func TestObserver_StopDrainsQueueBeforeReturning(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newTestObserver()
	h := &recordingHandler{}

	w, err := o.Schedule(h, "/tmp/x", true, nil)
	require.NoError(t, err)
	require.NoError(t, o.Start())

	const n = 5
	for i := 0; i < n; i++ {
		o.queue.Put(event.New(event.FileCreated, fmt.Sprintf("/tmp/x/%d", i), false, false), w)
	}

	require.NoError(t, o.Stop())
	require.Len(t, h.snapshot(), n, "Stop must not return until every queued event has been dispatched")

	o.Join(time.Second)
}

func TestObserver_ScheduleAfterStopFailsWithIllegalState(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newTestObserver()
	require.NoError(t, o.Start())
	require.NoError(t, o.Stop())
	o.Join(time.Second)

	_, err := o.Schedule(&recordingHandler{}, "/tmp/x", true, nil)
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestObserver_StopBeforeStartFailsWithIllegalState(t *testing.T) {
	o := newTestObserver()
	err := o.Stop()
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestObserver_AddHandlerForUnknownWatchFails(t *testing.T) {
	o := newTestObserver()
	w := event.NewObservedWatch("/never/scheduled", true, nil)
	err := o.AddHandlerForWatch(&recordingHandler{}, w)
	require.ErrorIs(t, err, ErrNotScheduled)
}

func TestObserver_AddHandlerForWatchDeliversToBothHandlers(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newTestObserver()
	h1 := &recordingHandler{}
	h2 := &recordingHandler{}

	w, err := o.Schedule(h1, "/tmp/x", true, nil)
	require.NoError(t, err)
	require.NoError(t, o.AddHandlerForWatch(h2, w))
	require.NoError(t, o.Start())
	defer func() {
		o.Stop()
		o.Join(time.Second)
	}()

	o.queue.Put(event.New(event.FileCreated, "/tmp/x/a.txt", false, false), w)

	require.Eventually(t, func() bool {
		return len(h1.snapshot()) == 1 && len(h2.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestObserver_UnscheduleUnknownWatchSucceedsSilently(t *testing.T) {
	o := newTestObserver()
	w := event.NewObservedWatch("/does/not/exist", true, nil)
	require.NoError(t, o.Unschedule(w))
}

var _ handler.Handler = (*recordingHandler)(nil)
