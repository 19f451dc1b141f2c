//go:build freebsd || netbsd || openbsd || dragonfly

package observer

import (
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/backend/kqueue"
	"github.com/gorakhargosh/watchdog/pkg/event"
)

// platformEmitterFactory selects kqueue on the BSDs.
// opts.EmitOpenClose has no effect here: EVFILT_VNODE carries no
// open/close notification for this factory to gate.
func platformEmitterFactory(w event.ObservedWatch, q backend.Queue, log backend.Logger, opts Options) (backend.Emitter, error) {
	return kqueue.New(w, q, log, kqueue.Options{})
}
