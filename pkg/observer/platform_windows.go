//go:build windows

package observer

import (
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/backend/windows"
	"github.com/gorakhargosh/watchdog/pkg/event"
)

// platformEmitterFactory selects ReadDirectoryChangesW on Windows.
// opts.EmitOpenClose has no effect here: FILE_NOTIFY_INFORMATION carries
// no open/close notification for this factory to gate.
func platformEmitterFactory(w event.ObservedWatch, q backend.Queue, log backend.Logger, opts Options) (backend.Emitter, error) {
	return windows.New(w, q, log, windows.Options{})
}
