package snapshot

import (
	"io/fs"
	"os"
	"time"
)

// fakeEntry is one node of an in-memory filesystem used to drive Walker
// in tests without touching disk.
type fakeEntry struct {
	path     string
	isDir    bool
	size     int64
	modTime  time.Time
	identity Identity
	children []string
}

type fakeFS struct {
	nodes map[string]*fakeEntry
}

func newFakeFS() *fakeFS {
	return &fakeFS{nodes: make(map[string]*fakeEntry)}
}

func (f *fakeFS) addFile(path string, id uint64, modTime time.Time, size int64) {
	f.nodes[path] = &fakeEntry{path: path, size: size, modTime: modTime, identity: Identity{Inode: id}}
}

func (f *fakeFS) addDir(path string, id uint64, modTime time.Time, children ...string) {
	f.nodes[path] = &fakeEntry{path: path, isDir: true, modTime: modTime, identity: Identity{Inode: id}, children: children}
}

func (f *fakeFS) stat(path string) (os.FileInfo, error) {
	n, ok := f.nodes[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return fakeFileInfo{n}, nil
}

func (f *fakeFS) listDir(path string) ([]os.DirEntry, error) {
	n, ok := f.nodes[path]
	if !ok || !n.isDir {
		return nil, os.ErrNotExist
	}
	out := make([]os.DirEntry, 0, len(n.children))
	for _, c := range n.children {
		// The node may be absent: a listed-but-unstattable child is how
		// tests model an entry that vanishes or locks up mid-walk.
		out = append(out, fakeDirEntry{name: base(c), n: f.nodes[c]})
	}
	return out, nil
}

func (f *fakeFS) identityFor(path string, _ os.FileInfo, _ bool) (Identity, error) {
	n, ok := f.nodes[path]
	if !ok {
		return Identity{}, os.ErrNotExist
	}
	return n.identity, nil
}

func (f *fakeFS) walker() *Walker {
	return &Walker{Stat: f.stat, ListDir: f.listDir, Identity: f.identityFor}
}

type fakeFileInfo struct{ n *fakeEntry }

func (i fakeFileInfo) Name() string       { return i.n.path }
func (i fakeFileInfo) Size() int64        { return i.n.size }
func (i fakeFileInfo) ModTime() time.Time { return i.n.modTime }
func (i fakeFileInfo) IsDir() bool        { return i.n.isDir }
func (i fakeFileInfo) Sys() any           { return nil }
func (i fakeFileInfo) Mode() fs.FileMode {
	if i.n.isDir {
		return fs.ModeDir
	}
	return 0
}

type fakeDirEntry struct {
	name string
	n    *fakeEntry
}

func (d fakeDirEntry) Name() string { return d.name }
func (d fakeDirEntry) IsDir() bool  { return d.n != nil && d.n.isDir }
func (d fakeDirEntry) Type() fs.FileMode {
	if d.n == nil {
		return 0
	}
	return fakeFileInfo{d.n}.Mode()
}
func (d fakeDirEntry) Info() (fs.FileInfo, error) {
	if d.n == nil {
		return nil, os.ErrNotExist
	}
	return fakeFileInfo{d.n}, nil
}

func base(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
