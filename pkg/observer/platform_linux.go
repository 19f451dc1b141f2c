//go:build linux

package observer

import (
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/backend/inotify"
	"github.com/gorakhargosh/watchdog/pkg/event"
)

// platformEmitterFactory selects inotify on Linux. EmitOpenClose is
// threaded through here since inotify is the only backend with a native
// open/close notification to gate.
func platformEmitterFactory(w event.ObservedWatch, q backend.Queue, log backend.Logger, opts Options) (backend.Emitter, error) {
	return inotify.New(w, q, log, inotify.Options{EmitOpenClose: opts.EmitOpenClose})
}
