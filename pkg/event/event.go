// Package event defines the canonical event model shared by every backend
// adapter and consumed by the observer kernel and handler dispatch.
package event

import (
	"fmt"
	"strings"
)

// Kind tags the event variants: one of
// created/deleted/modified/moved/opened/closed/closed_no_write for files,
// and the seven Dir* equivalents.
type Kind uint8

const (
	FileCreated Kind = iota
	FileDeleted
	FileModified
	FileMoved
	FileOpened
	FileClosed
	FileClosedNoWrite
	DirCreated
	DirDeleted
	DirModified
	DirMoved
	DirOpened
	DirClosed
	DirClosedNoWrite
)

// names holds the stable wire-independent identifiers.
// These strings are what consumers use to build an event filter.
var names = map[Kind]string{
	FileCreated:       "file_created",
	FileDeleted:       "file_deleted",
	FileModified:      "file_modified",
	FileMoved:         "file_moved",
	FileOpened:        "file_opened",
	FileClosed:        "file_closed",
	FileClosedNoWrite: "file_closed_no_write",
	DirCreated:        "dir_created",
	DirDeleted:        "dir_deleted",
	DirModified:       "dir_modified",
	DirMoved:          "dir_moved",
	DirOpened:         "dir_opened",
	DirClosed:         "dir_closed",
	DirClosedNoWrite:  "dir_closed_no_write",
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, len(names))
	for k, v := range names {
		m[v] = k
	}
	return m
}()

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind resolves a wire identifier (e.g. "file_moved") back to a Kind.
func ParseKind(s string) (Kind, bool) {
	k, ok := byName[s]
	return k, ok
}

// IsDir reports whether this variant describes a directory event.
func (k Kind) IsDir() bool {
	return k >= DirCreated
}

// Event is an immutable record of one filesystem change. Common attributes
// live on every variant; DestPath is populated only for Moved events.
type Event struct {
	Kind        Kind
	SrcPath     string
	DestPath    string // set only when Kind is *Moved
	IsDirectory bool
	IsSynthetic bool
}

// New builds a non-moved event. Use NewMoved for FileMoved/DirMoved.
func New(kind Kind, srcPath string, isDir, isSynthetic bool) Event {
	return Event{
		Kind:        kind,
		SrcPath:     srcPath,
		IsDirectory: isDir,
		IsSynthetic: isSynthetic,
	}
}

// NewMoved builds a FileMoved or DirMoved event with both endpoints.
func NewMoved(srcPath, destPath string, isDir, isSynthetic bool) Event {
	kind := FileMoved
	if isDir {
		kind = DirMoved
	}
	return Event{
		Kind:        kind,
		SrcPath:     srcPath,
		DestPath:    destPath,
		IsDirectory: isDir,
		IsSynthetic: isSynthetic,
	}
}

func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Kind == FileMoved || e.Kind == DirMoved {
		fmt.Fprintf(&b, " %q -> %q", e.SrcPath, e.DestPath)
	} else {
		fmt.Fprintf(&b, " %q", e.SrcPath)
	}
	if e.IsSynthetic {
		b.WriteString(" (synthetic)")
	}
	return b.String()
}

// equalTo implements the structural equality the event queue's
// de-duplication discipline needs: variant, paths, and (externally) the
// owning watch.
func (e Event) equalTo(other Event) bool {
	return e.Kind == other.Kind &&
		e.SrcPath == other.SrcPath &&
		e.DestPath == other.DestPath &&
		e.IsDirectory == other.IsDirectory
}

// Equal reports structural equality ignoring IsSynthetic.
func (e Event) Equal(other Event) bool {
	return e.equalTo(other)
}
