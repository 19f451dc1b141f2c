//go:build windows

package snapshot

import (
	"os"

	"golang.org/x/sys/windows"
)

// identityFor on Windows has no inode to read, so it opens the file and
// asks the kernel for its real per-volume file index via
// GetFileInformationByHandle, the same identity NTFS hard-link detection
// uses, reported through the same Identity shape every other platform
// uses. ignoreDevice is accepted for signature symmetry with the POSIX
// build but is always effectively true here: the volume serial number is
// not a stable cross-boundary key the way a POSIX device id is, so
// Windows identity never depends on it.
func identityFor(path string, info os.FileInfo, ignoreDevice bool) (Identity, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Identity{}, err
	}
	h, err := windows.CreateFile(
		p,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return Identity{}, err
	}
	defer windows.CloseHandle(h)

	var fi windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &fi); err != nil {
		return Identity{}, err
	}

	return Identity{
		Device: 0,
		Inode:  uint64(fi.FileIndexHigh)<<32 | uint64(fi.FileIndexLow),
	}, nil
}

// defaultIgnoreDevice is forced true on Windows.
const defaultIgnoreDevice = true
