//go:build darwin

package observer

import (
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/backend/fsevents"
	"github.com/gorakhargosh/watchdog/pkg/backend/kqueue"
	"github.com/gorakhargosh/watchdog/pkg/event"
)

// platformEmitterFactory selects FSEvents on macOS, falling back to the
// kqueue backend when FSEvents cannot serve the watched path — its
// constructor fails when the path's device cannot be resolved, which is
// what "FSEvents unavailable" looks like from user space.
// opts.EmitOpenClose has no effect here: neither FSEvents nor
// EVFILT_VNODE carries an open/close notification for this factory to
// gate.
func platformEmitterFactory(w event.ObservedWatch, q backend.Queue, log backend.Logger, opts Options) (backend.Emitter, error) {
	em, err := fsevents.New(w, q, log, fsevents.Options{})
	if err == nil {
		return em, nil
	}
	if log != nil {
		log.Warnf("observer: fsevents unavailable for %s, falling back to kqueue: %v", w.Path(), err)
	}
	return kqueue.New(w, q, log, kqueue.Options{})
}
