//go:build !windows

package snapshot

import (
	"os"
	"syscall"
)

// identityFor derives Identity from the raw inode and device numbers the
// kernel already hands back through os.FileInfo.Sys() on every POSIX
// platform. No third-party package exposes this any more directly than
// the standard library does, so this one accessor stays on stdlib; every
// syscall-level backend in this repo still goes through golang.org/x/sys.
func identityFor(path string, info os.FileInfo, ignoreDevice bool) (Identity, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Identity{}, nil
	}
	id := Identity{Device: uint64(stat.Dev), Inode: stat.Ino}
	if ignoreDevice {
		id.Device = 0
	}
	return id, nil
}

// defaultIgnoreDevice is the platform default for Walker.IgnoreDevice.
// True on POSIX: identity collapses to the bare inode, which keeps a move
// across a mount boundary (e.g. a bind-mounted subtree moving back onto
// its host filesystem) visible as a move instead of a delete+create.
const defaultIgnoreDevice = true
