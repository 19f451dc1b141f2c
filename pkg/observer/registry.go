package observer

import (
	"sync"

	"github.com/gorakhargosh/watchdog/internal/bricks"
	"github.com/gorakhargosh/watchdog/pkg/backend"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/handler"
)

// watchKey is ObservedWatch's (path, recursive) identity tuple, used
// wherever a watch needs to be a map key: ObservedWatch itself carries a
// FilterSet map field, which the Go type system does not accept as
// comparable, even though watch equality is defined over
// (path, recursive) alone and ignores the filter entirely.
type watchKey struct {
	path      string
	recursive bool
}

func keyOf(w event.ObservedWatch) watchKey {
	p, r := w.Key()
	return watchKey{path: p, recursive: r}
}

// watchEntry is one live registration: the canonical ObservedWatch value
// (retained for its Filter()), its handler set, and its emitter.
type watchEntry struct {
	watch    event.ObservedWatch
	handlers *bricks.OrderedSet[handler.Handler]
	emitter  backend.Emitter
}

// registry maps each ObservedWatch to its handler set, a reverse path
// index, and the watch's live Emitter. Every mutation and every
// dispatcher read takes mu, so scheduling and dispatch never observe an
// intermediate state.
type registry struct {
	mu      sync.Mutex
	entries map[watchKey]*watchEntry
	byPath  map[string]*bricks.OrderedSet[watchKey]
}

func newRegistry() *registry {
	return &registry{
		entries: make(map[watchKey]*watchEntry),
		byPath:  make(map[string]*bricks.OrderedSet[watchKey]),
	}
}

// ensureWatch returns the canonical watch for w, creating its handler set
// and path index entry if this is the first time it's seen. The bool
// result reports whether the watch was newly created.
func (r *registry) ensureWatch(w event.ObservedWatch) (event.ObservedWatch, bool) {
	k := keyOf(w)
	if e, ok := r.entries[k]; ok {
		return e.watch, false
	}
	r.entries[k] = &watchEntry{watch: w, handlers: bricks.NewOrderedSet[handler.Handler]()}
	set, ok := r.byPath[w.Path()]
	if !ok {
		set = bricks.NewOrderedSet[watchKey]()
		r.byPath[w.Path()] = set
	}
	set.Add(k)
	return w, true
}

func (r *registry) addHandler(w event.ObservedWatch, h handler.Handler) {
	if e, ok := r.entries[keyOf(w)]; ok {
		e.handlers.Add(h)
	}
}

// removeHandler removes h from w's handler set and reports whether the
// set is now empty, signaling the caller should unschedule w entirely.
func (r *registry) removeHandler(w event.ObservedWatch, h handler.Handler) (empty bool) {
	e, ok := r.entries[keyOf(w)]
	if !ok {
		return true
	}
	e.handlers.Remove(h)
	return e.handlers.Len() == 0
}

func (r *registry) handlersFor(w event.ObservedWatch) []handler.Handler {
	e, ok := r.entries[keyOf(w)]
	if !ok {
		return nil
	}
	return e.handlers.Items()
}

func (r *registry) setEmitter(w event.ObservedWatch, em backend.Emitter) {
	if e, ok := r.entries[keyOf(w)]; ok {
		e.emitter = em
	}
}

func (r *registry) emitterFor(w event.ObservedWatch) (backend.Emitter, bool) {
	e, ok := r.entries[keyOf(w)]
	if !ok || e.emitter == nil {
		return nil, false
	}
	return e.emitter, true
}

func (r *registry) lookupByKey(k watchKey) (event.ObservedWatch, bool) {
	e, ok := r.entries[k]
	if !ok {
		return event.ObservedWatch{}, false
	}
	return e.watch, true
}

func (r *registry) remove(w event.ObservedWatch) {
	k := keyOf(w)
	delete(r.entries, k)
	if set, ok := r.byPath[w.Path()]; ok {
		set.Remove(k)
		if set.Len() == 0 {
			delete(r.byPath, w.Path())
		}
	}
}

func (r *registry) allWatches() []event.ObservedWatch {
	out := make([]event.ObservedWatch, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.watch)
	}
	return out
}
