package event

import (
	"path/filepath"
	"strings"
)

// FilterSet is an allowlist of event kinds a watch accepts. A nil FilterSet
// means "all kinds".
type FilterSet map[Kind]struct{}

// NewFilterSet builds a FilterSet from the given kinds. Passing no kinds
// returns an empty (not nil) set, which matches nothing — callers that want
// "all kinds" should pass a nil FilterSet, not an empty one.
func NewFilterSet(kinds ...Kind) FilterSet {
	fs := make(FilterSet, len(kinds))
	for _, k := range kinds {
		fs[k] = struct{}{}
	}
	return fs
}

// Allows reports whether kind passes this filter. A nil FilterSet allows
// everything.
func (fs FilterSet) Allows(kind Kind) bool {
	if fs == nil {
		return true
	}
	_, ok := fs[kind]
	return ok
}

// ObservedWatch is the value handed back from Observer.Schedule. Equality
// and hashing are defined over (Path, Recursive) only: two watches on the
// same path with the same recursion flag are the same watch even if their
// filters differ.
type ObservedWatch struct {
	path      string
	recursive bool
	filter    FilterSet
}

// NewObservedWatch constructs a watch value. Callers normally go through
// Observer.Schedule rather than constructing this directly; it is exported
// so backends and tests can build watches for isolated diffing. path is
// canonicalized once here, at schedule time, and compared by that form
// throughout, rather than leaving junctions, reparse points, or relative
// paths to be resolved inconsistently by each backend.
func NewObservedWatch(path string, recursive bool, filter FilterSet) ObservedWatch {
	return ObservedWatch{
		path:      canonicalize(path),
		recursive: recursive,
		filter:    filter,
	}
}

func normalizePath(p string) string {
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// canonicalize resolves p to an absolute, symlink-free form using
// path/filepath, which already canonicalizes separators and reparse
// points the way the host OS expects (and, on Windows, is what
// filepath.Abs and filepath.EvalSymlinks are for — no junction-specific
// handling beyond what the standard library itself resolves). It falls
// back one step at a time on error rather than failing outright:
// NewObservedWatch has no error return, and scheduling a path that
// doesn't exist yet (to watch for its creation) is a legitimate pattern
// that EvalSymlinks alone would otherwise reject.
func canonicalize(p string) string {
	p = normalizePath(p)
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return normalizePath(real)
	}
	return abs
}

func (w ObservedWatch) Path() string      { return w.path }
func (w ObservedWatch) Recursive() bool   { return w.recursive }
func (w ObservedWatch) Filter() FilterSet { return w.filter }

// Key returns the (path, recursive) tuple that defines this watch's
// identity.
func (w ObservedWatch) Key() (string, bool) {
	return w.path, w.recursive
}

// Equal compares two watches by their identity tuple only, ignoring filter.
func (w ObservedWatch) Equal(other ObservedWatch) bool {
	return w.path == other.path && w.recursive == other.recursive
}

func (w ObservedWatch) String() string {
	return "<ObservedWatch path=" + w.path + " recursive=" + boolStr(w.recursive) + ">"
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
