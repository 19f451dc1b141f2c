package event

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewObservedWatch_CanonicalizesRelativePath(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	w := NewObservedWatch(".", false, nil)
	require.True(t, filepath.IsAbs(w.Path()))
}

func TestNewObservedWatch_ResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	direct := NewObservedWatch(real, true, nil)
	viaLink := NewObservedWatch(link, true, nil)
	require.Equal(t, direct.Path(), viaLink.Path())
}

func TestNewObservedWatch_TrailingSeparatorIgnored(t *testing.T) {
	dir := t.TempDir()

	w1 := NewObservedWatch(dir, true, nil)
	w2 := NewObservedWatch(dir+string(os.PathSeparator), true, nil)
	require.True(t, w1.Equal(w2))
}

func TestNewObservedWatch_NonexistentPathFallsBackToAbs(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "does-not-exist-yet")

	w := NewObservedWatch(missing, false, nil)
	require.Equal(t, missing, w.Path())
}
