//go:build !linux && !darwin && !windows && !freebsd && !netbsd && !openbsd && !dragonfly

package observer

import (
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
)

// platformEmitterFactory falls back to polling on platforms with no
// dedicated backend in this module.
func platformEmitterFactory(w event.ObservedWatch, q backend.Queue, log backend.Logger, opts Options) (backend.Emitter, error) {
	return pollingEmitterFactory(w, q, log, opts)
}
