package backend

import "errors"

var (
	// ErrResourceExhausted is joined with the underlying OS error
	// (ENOSPC on inotify's max_user_watches, EMFILE/ENFILE on kqueue's
	// open-file budget) when a backend cannot acquire the kernel
	// resource a watch needs, so Schedule fails with a structured error
	// naming the exhausted resource.
	ErrResourceExhausted = errors.New("backend: kernel watch resource exhausted")

	// ErrWatchVanished is joined with the watched root's path when that
	// root disappears out from under a live watch (deleted or
	// unmounted). The emitter still reports the condition primarily through
	// the event stream (a terminal DirDeleted); this sentinel is what
	// the accompanying log record carries so callers watching the
	// Logger side-channel can errors.Is against it.
	ErrWatchVanished = errors.New("backend: watched root vanished")
)
