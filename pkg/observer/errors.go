package observer

import (
	"errors"

	"github.com/gorakhargosh/watchdog/pkg/backend"
)

// ErrIllegalState is returned when the observer's public API is used out
// of sequence: scheduling after Stop, or stopping before Start.
var ErrIllegalState = errors.New("observer: illegal state")

// ErrNotScheduled is returned by operations that require an existing
// watch (e.g. AddHandlerForWatch) when the given watch is unknown.
var ErrNotScheduled = errors.New("observer: watch is not scheduled")

// ErrResourceExhausted is the same sentinel a backend joins with the
// underlying OS error when Schedule cannot acquire a kernel watch
// resource, re-exported here so callers can errors.Is against it without
// reaching into pkg/backend directly.
var ErrResourceExhausted = backend.ErrResourceExhausted

// ErrWatchVanished is the same sentinel a backend joins with its watched
// root's path when that root disappears out from under a live watch,
// re-exported here for the same reason as ErrResourceExhausted.
var ErrWatchVanished = backend.ErrWatchVanished
