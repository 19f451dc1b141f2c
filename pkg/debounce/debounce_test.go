package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gorakhargosh/watchdog/pkg/event"
)

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

func TestEventDebouncer_CollapsesBurstToOneEventPerPath(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := &recordingHandler{}
	d := New(30*time.Millisecond, target)
	d.Start()
	defer func() {
		d.Stop()
		d.Wait()
	}()

	d.Dispatch(event.New(event.FileModified, "/tmp/a", false, false))
	d.Dispatch(event.New(event.FileModified, "/tmp/a", false, false))
	d.Dispatch(event.New(event.FileModified, "/tmp/b", false, false))

	require.Eventually(t, func() bool {
		return len(target.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEventDebouncer_StopFlushesPendingEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := &recordingHandler{}
	d := New(time.Hour, target)
	d.Start()

	d.Dispatch(event.New(event.FileCreated, "/tmp/a", false, false))
	d.Stop()
	d.Wait()

	require.Len(t, target.snapshot(), 1)
}
