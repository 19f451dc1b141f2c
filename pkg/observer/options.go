package observer

import "time"

// Options configures an Observer. The zero value is not directly usable;
// construct via DefaultOptions and override fields as needed.
type Options struct {
	// Timeout is the dispatcher's poll timeout on the event queue.
	// Default 1s.
	Timeout time.Duration
	// QueueCapacity bounds the shared EventQueue; 0 means unbounded.
	QueueCapacity int
	// EmitOpenClose controls whether FileOpened/FileClosed/
	// FileClosedNoWrite (and their Dir* equivalents) are ever produced.
	// Default false: most consumers only care about content and
	// structural changes. Only the inotify backend can natively
	// observe open/close at all; other backends ignore this field
	// because their kernel APIs carry no such notification.
	EmitOpenClose bool
	// GracePeriod bounds how long Stop blocks draining the event queue
	// and waiting for the dispatcher to exit before giving up.
	// Default 2s.
	GracePeriod time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:       time.Second,
		QueueCapacity: 0,
		EmitOpenClose: false,
		GracePeriod:   2 * time.Second,
	}
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return time.Second
	}
	return o.Timeout
}

func (o Options) gracePeriod() time.Duration {
	if o.GracePeriod <= 0 {
		return 2 * time.Second
	}
	return o.GracePeriod
}
