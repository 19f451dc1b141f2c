// Package backend defines the contract every platform adapter (inotify,
// FSEvents, kqueue, ReadDirectoryChangesW, polling) presents to the
// observer kernel: construct an Emitter for a watch,
// start it, and let it push events into a shared queue until stopped.
package backend

import (
	"time"

	"github.com/gorakhargosh/watchdog/internal/bricks"
	"github.com/gorakhargosh/watchdog/pkg/event"
)

// Emitter owns one live ObservedWatch's kernel resources and feeds events
// for it into a shared Queue until Stop is called. Implementations run
// their work on a dedicated goroutine started by Start. Descriptors and
// handles that goroutine reads from are closed once it has exited after
// Stop, not by the time Stop returns; a goroutine that never exits keeps
// them open.
type Emitter interface {
	// Start begins producing events on a background goroutine. Start is
	// not idempotent; the observer calls it exactly once per Emitter.
	Start() error
	// Stop signals the emitter to wind down and release its kernel
	// resources. Stop does not block on the goroutine's exit; callers
	// that need that guarantee use the queue's drain behavior.
	Stop() error
	// Watch returns the ObservedWatch this emitter serves.
	Watch() event.ObservedWatch
}

// Queue is the subset of bricks.EventQueue every Emitter needs: enough to
// publish events without depending on the dispatcher's consumption side.
type Queue interface {
	Put(e event.Event, watch event.ObservedWatch)
}

var _ Queue = (*bricks.EventQueue)(nil)

// Logger is the subset of logging every emitter uses to report transient
// kernel errors (overflow, resource exhaustion) without pulling observer
// or CLI packages into backend code.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
}

// PollInterval is the default tick period for any backend that cannot
// rely on kernel notifications and must poll, mirrored by the standalone
// polling backend's own default.
const PollInterval = time.Second
