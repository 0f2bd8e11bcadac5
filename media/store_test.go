package media

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriteAtomicallyCommitsOnSuccess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "out.jpg")

	err := WriteAtomically(target, func(w io.Writer) error {
		_, err := w.Write([]byte("payload"))
		return err
	})
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, []string{"out.jpg"}, dirEntries(t, filepath.Dir(target)))
}

func TestWriteAtomicallyLeavesNothingOnProducerFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.jpg")
	boom := errors.New("encoder exploded")

	err := WriteAtomically(target, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.NoFileExists(t, target)
	assert.Empty(t, dirEntries(t, dir), "temp file must be removed")
}

func TestWriteAtomicallyRejectsEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.jpg")

	err := WriteAtomically(target, func(io.Writer) error { return nil })
	require.ErrorIs(t, err, ErrEmptyOutput)
	assert.Empty(t, dirEntries(t, dir))
}

func TestWriteAtomicallyKeepsPreviousTargetOnFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.jpg")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0644))

	err := WriteAtomically(target, func(io.Writer) error { return errors.New("nope") })
	require.Error(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestBackupOutcomes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("img"), 0644))

	disabled := NewFileStore(StoreOptions{BackupRoot: filepath.Join(dir, "bk")}, nil)
	out, err := disabled.Backup(src)
	require.NoError(t, err)
	assert.False(t, out.Made)
	assert.Equal(t, "backups disabled", out.Reason)

	noRoot := NewFileStore(StoreOptions{CreateBackups: true}, nil)
	out, err = noRoot.Backup(src)
	require.NoError(t, err)
	assert.False(t, out.Made)

	fixed := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	enabled := NewFileStore(StoreOptions{CreateBackups: true, BackupRoot: filepath.Join(dir, "bk")}, nil)
	enabled.now = func() time.Time { return fixed }
	out, err = enabled.Backup(src)
	require.NoError(t, err)
	require.True(t, out.Made)
	assert.Equal(t, filepath.Join(dir, "bk", "20260504_030201", "a.jpg"), out.Path)
	assert.FileExists(t, src, "backup must not move the source")
}

func TestRelocateOriginal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shoot", "a.cr2")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
	require.NoError(t, os.WriteFile(src, []byte("raw"), 0644))

	off := NewFileStore(StoreOptions{OriginalsFolderName: "originals"}, nil)
	out, err := off.RelocateOriginal(src)
	require.NoError(t, err)
	assert.False(t, out.Made)
	assert.FileExists(t, src)

	on := NewFileStore(StoreOptions{RelocateOriginals: true, OriginalsFolderName: "originals"}, nil)
	out, err = on.RelocateOriginal(src)
	require.NoError(t, err)
	require.True(t, out.Made)
	assert.Equal(t, filepath.Join(dir, "shoot", "originals", "a.cr2"), out.Path)
	assert.NoFileExists(t, src)
	assert.FileExists(t, out.Path)
}

func TestRelocateNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	existing := filepath.Join(dir, "originals", "a.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0755))
	require.NoError(t, os.WriteFile(existing, []byte("first"), 0644))
	require.NoError(t, os.WriteFile(src, []byte("second"), 0644))

	fs := NewFileStore(StoreOptions{RelocateOriginals: true, OriginalsFolderName: "originals"}, nil)
	fs.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	out, err := fs.RelocateOriginal(src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "originals", "a_20260102_030405.jpg"), out.Path)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestSweepStaleTemp(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.tmp", "b.tmp", "keep.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.tmp"), 0755))

	fs := NewFileStore(StoreOptions{}, nil)
	assert.Equal(t, 2, fs.SweepStaleTemp(dir))
	assert.ElementsMatch(t, []string{"keep.jpg", "sub.tmp"}, dirEntries(t, dir))

	assert.Equal(t, 0, fs.SweepStaleTemp(filepath.Join(dir, "missing")))
}

func TestSweepAbandonedWrites(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "2026", "trip")
	require.NoError(t, os.MkdirAll(nested, 0755))

	abandoned := []string{
		filepath.Join(root, ".a_enhanced.jpg.3f2b8c1e-8d4f-4a61-9a43-0c6f5b7d2e10.tmp"),
		filepath.Join(nested, ".b_enhanced.jpg.9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d.tmp"),
	}
	kept := []string{
		filepath.Join(nested, "b_enhanced.jpg"),
		filepath.Join(nested, "notes.tmp"),
		filepath.Join(nested, ".hidden.not-a-uuid.tmp"),
	}
	for _, p := range append(append([]string{}, abandoned...), kept...) {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	fs := NewFileStore(StoreOptions{}, nil)
	assert.Equal(t, 2, fs.SweepAbandonedWrites(root))
	for _, p := range abandoned {
		assert.NoFileExists(t, p)
	}
	for _, p := range kept {
		assert.FileExists(t, p)
	}

	assert.Equal(t, 0, fs.SweepAbandonedWrites(filepath.Join(root, "missing")))
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()

	ds, err := CheckDiskSpace(filepath.Join(dir, "not", "yet", "created"), 0)
	require.NoError(t, err)
	assert.Greater(t, ds.TotalGB, 0.0)
	assert.False(t, ds.Warning)

	ds, err = CheckDiskSpace(dir, 1e12)
	require.NoError(t, err)
	assert.True(t, ds.Warning)
}
