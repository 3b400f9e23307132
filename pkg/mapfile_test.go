package bernard

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStoreRoundTrip(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "home.map")
	store := NewMapStore()

	entries := map[string]FileAttributes{
		"/r/plain.txt":      {ModTime: 1700000000123456789, Digest: "0a1b2c", Sequence: 0},
		"/r/tab\there":      {ModTime: -5, Digest: "AAA", Sequence: 7},
		"/r/new\nline":      {ModTime: 42, Digest: "ff", Sequence: 65535},
		"/r/quote\"d":       {ModTime: 43, Digest: "ee", Sequence: 1},
		"/r/back\\slash":    {ModTime: 44, Digest: "dd", Sequence: 2},
		"/r/bad\xffutf8":    {ModTime: 45, Digest: "cc", Sequence: 3},
		"/r/ünïcödé/fïlé":   {ModTime: 46, Digest: "bb", Sequence: 4},
		"/r/space in name ": {ModTime: 47, Digest: "aa", Sequence: 5},
	}
	c := NewCache()
	for path, attrs := range entries {
		c.RecordObservation(path, attrs)
	}
	c.RecordObservation("/r/deleted", FileAttributes{ModTime: 9, Digest: "99", Sequence: 2})
	c.Tombstone("/r/deleted")

	require.NoError(t, store.Save(mapPath, c))

	loaded, err := store.Load(mapPath)
	require.NoError(t, err)
	assert.Equal(t, c.Len(), loaded.Len())

	for path, attrs := range entries {
		got, ok := loaded.Lookup(path)
		if assert.True(t, ok, "missing %q", path) {
			assert.Equal(t, attrs, got, "attributes of %q", path)
		}
	}

	previous, ok := loaded.LookupTombstone("/r/deleted")
	require.True(t, ok)
	assert.Equal(t, uint16(2), previous.Sequence)

	// Every live entry comes back unconfirmed
	swept := slices.Collect(loaded.SweepDeleted())
	assert.Len(t, swept, len(entries))
	assert.True(t, slices.IsSorted(swept))

	// Saving what was loaded reproduces the file byte for byte
	first, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(mapPath, loaded))
	second, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMapStoreFileLayout(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "layout.map")

	c := NewCache()
	c.RecordObservation("/r/b", FileAttributes{ModTime: 2, Digest: "bb", Sequence: 1})
	c.RecordObservation("/r/a", FileAttributes{ModTime: 1, Digest: "aa"})
	c.RecordObservation("/r/c", FileAttributes{ModTime: 3, Digest: "cc"})
	c.Tombstone("/r/c")

	require.NoError(t, NewMapStore().Save(mapPath, c))

	data, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	expected := "1\n" +
		"\"/r/a\"\t1\taa\t0\t-\n" +
		"\"/r/b\"\t2\tbb\t1\t-\n" +
		"\"/r/c\"\t3\tcc\t0\td\n"
	assert.Equal(t, expected, string(data))
}

func TestMapStoreEmptyCache(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "empty.map")
	store := NewMapStore()

	require.NoError(t, store.Save(mapPath, NewCache()))

	data, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(data))

	loaded, err := store.Load(mapPath)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestMapStoreLoadMissing(t *testing.T) {
	_, err := NewMapStore().Load(filepath.Join(t.TempDir(), "nope.map"))
	assert.ErrorIs(t, err, ErrMapMissing)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMapStoreLoadFormatErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		line    int
	}{
		{"empty file", "", 1},
		{"unknown version", "2\n", 1},
		{"garbage version", "bernard\n", 1},
		{"unquoted path", "1\n/r/a\t1\taa\t0\t-\n", 2},
		{"unterminated quote", "1\n\"/r/a\t1\taa\t0\t-\n", 2},
		{"empty path", "1\n\"\"\t1\taa\t0\t-\n", 2},
		{"missing field", "1\n\"/r/a\"\t1\taa\t0\n", 2},
		{"extra field", "1\n\"/r/a\"\t1\taa\t0\t-\tx\n", 2},
		{"bad mtime", "1\n\"/r/a\"\tyesterday\taa\t0\t-\n", 2},
		{"empty digest", "1\n\"/r/a\"\t1\t\t0\t-\n", 2},
		{"sequence overflow", "1\n\"/r/a\"\t1\taa\t65536\t-\n", 2},
		{"bad flags", "1\n\"/r/a\"\t1\taa\t0\tx\n", 2},
		{"blank record", "1\n\"/r/a\"\t1\taa\t0\t-\n\n", 3},
		{"duplicate path", "1\n\"/r/a\"\t1\taa\t0\t-\n\"/r/a\"\t2\tbb\t0\t-\n", 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mapPath := filepath.Join(t.TempDir(), "bad.map")
			require.NoError(t, os.WriteFile(mapPath, []byte(tc.content), 0644))

			_, err := NewMapStore().Load(mapPath)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMapFormat)

			var formatErr *FormatError
			require.True(t, errors.As(err, &formatErr))
			assert.Equal(t, tc.line, formatErr.Line)
			assert.Equal(t, mapPath, formatErr.Path)
		})
	}
}

func TestMapStoreLoadWithoutTrailingNewline(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "short.map")
	require.NoError(t, os.WriteFile(mapPath, []byte("1\n\"/r/a\"\t1\taa\t0\t-"), 0644))

	c, err := NewMapStore().Load(mapPath)
	require.NoError(t, err)
	_, ok := c.Lookup("/r/a")
	assert.True(t, ok)
}

func TestMapStoreRenameFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "home.map")
	store := NewMapStore()

	original := NewCache()
	original.RecordObservation("/r/a", FileAttributes{ModTime: 1, Digest: "aa"})
	require.NoError(t, store.Save(mapPath, original))
	before, err := os.ReadFile(mapPath)
	require.NoError(t, err)

	// Crash between write and rename
	crash := errors.New("simulated crash")
	var renamedFrom string
	store.rename = func(oldpath, newpath string) error {
		renamedFrom = oldpath
		return crash
	}

	updated := NewCache()
	updated.RecordObservation("/r/b", FileAttributes{ModTime: 2, Digest: "bb"})
	err = store.Save(mapPath, updated)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, crash)

	var persistErr *PersistError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, PersistRename, persistErr.Op)
	assert.Equal(t, renamedFrom, persistErr.TempPath)
	assert.False(t, persistErr.TempRemains)
	assert.True(t, strings.HasPrefix(filepath.Base(persistErr.TempPath), ".home.map.tmp-"))

	after, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "map file must be untouched")

	_, err = os.Stat(persistErr.TempPath)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMapStoreWriteFailure(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "missing-dir", "home.map")

	c := NewCache()
	c.RecordObservation("/r/a", FileAttributes{ModTime: 1, Digest: "aa"})

	err := NewMapStore().Save(mapPath, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)

	var persistErr *PersistError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, PersistWrite, persistErr.Op)
}

func TestMapStoreRejectsUnencodableDigest(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "home.map")
	store := NewMapStore()
	require.NoError(t, store.Save(mapPath, NewCache()))

	c := NewCache()
	c.RecordObservation("/r/a", FileAttributes{ModTime: 1, Digest: "two words"})

	err := store.Save(mapPath, c)
	var persistErr *PersistError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, PersistWrite, persistErr.Op)

	data, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(data))

	// No temp file was left behind
	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, names, 1)
}
