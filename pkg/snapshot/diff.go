package snapshot

import (
	"sort"

	"github.com/gorakhargosh/watchdog/pkg/event"
)

// Diff is the ordered set of events that carries a tree from one Snapshot
// to another. Ordering within Events is always creations, then moves
// (ordered by source path), then modifications, then deletions.
type Diff struct {
	Events []event.Event
}

// Differ computes Diffs between Snapshot pairs. It holds no state; the
// zero value is ready to use.
type Differ struct{}

// Compute returns the events that transform prev into cur by
// identity-set difference: entries whose identity is only in cur are
// created; only in prev are deleted; present in both under different
// paths are moved; present in both at the same path with a different
// size or mtime are modified.
func (Differ) Compute(prev, cur *Snapshot) Diff {
	var created, deleted, moved, modified []event.Event

	for id, curEntry := range cur.byID {
		prevEntry, existed := prev.byID[id]
		switch {
		case !existed:
			created = append(created, createdEvent(curEntry))
		case prevEntry.Path != curEntry.Path:
			moved = append(moved, movedEvent(prevEntry, curEntry))
		case entryChanged(prevEntry, curEntry):
			modified = append(modified, modifiedEvent(curEntry))
		}
	}

	for id, prevEntry := range prev.byID {
		if _, stillExists := cur.byID[id]; !stillExists {
			deleted = append(deleted, deletedEvent(prevEntry))
		}
	}

	sortByKind(created, func(e event.Event) bool { return e.IsDirectory })
	sort.Slice(moved, func(i, j int) bool { return moved[i].SrcPath < moved[j].SrcPath })
	sort.Slice(modified, func(i, j int) bool { return modified[i].SrcPath < modified[j].SrcPath })
	sortDeletedFilesFirst(deleted)

	events := make([]event.Event, 0, len(created)+len(moved)+len(modified)+len(deleted))
	events = append(events, created...)
	events = append(events, moved...)
	events = append(events, modified...)
	events = append(events, deleted...)
	return Diff{Events: events}
}

func entryChanged(a, b Entry) bool {
	return !a.ModTime.Equal(b.ModTime) || a.Size != b.Size
}

func createdEvent(e Entry) event.Event {
	kind := event.FileCreated
	if e.Type == TypeDir {
		kind = event.DirCreated
	}
	return event.New(kind, e.Path, e.Type == TypeDir, true)
}

func deletedEvent(e Entry) event.Event {
	kind := event.FileDeleted
	if e.Type == TypeDir {
		kind = event.DirDeleted
	}
	return event.New(kind, e.Path, e.Type == TypeDir, true)
}

func modifiedEvent(e Entry) event.Event {
	kind := event.FileModified
	if e.Type == TypeDir {
		kind = event.DirModified
	}
	return event.New(kind, e.Path, e.Type == TypeDir, true)
}

func movedEvent(prev, cur Entry) event.Event {
	return event.NewMoved(prev.Path, cur.Path, cur.Type == TypeDir, true)
}

// sortByKind orders created-entry events directories-first, then files,
// each group alphabetical by path, so handlers see a container before
// its contents.
func sortByKind(events []event.Event, isDir func(event.Event) bool) {
	sort.Slice(events, func(i, j int) bool {
		di, dj := isDir(events[i]), isDir(events[j])
		if di != dj {
			return di
		}
		return events[i].SrcPath < events[j].SrcPath
	})
}

// sortDeletedFilesFirst orders deletion events files-first, then
// directories, each group alphabetical by path, so a directory's
// contents are reported gone before the directory itself.
func sortDeletedFilesFirst(events []event.Event) {
	sort.Slice(events, func(i, j int) bool {
		di, dj := events[i].IsDirectory, events[j].IsDirectory
		if di != dj {
			return !di
		}
		return events[i].SrcPath < events[j].SrcPath
	})
}
