package bernard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDigester(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	testCases := []struct {
		algorithm string
		expected  string
	}{
		{"sha1", "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"},
		{"sha256", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}

	for _, tc := range testCases {
		t.Run(tc.algorithm, func(t *testing.T) {
			// A tiny buffer exercises the read loop
			digester, err := NewFileDigester(tc.algorithm, 3, nil)
			require.NoError(t, err)

			digest, err := digester.Digest(path)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, digest)
			assert.True(t, validDigest(digest))
		})
	}
}

func TestFileDigesterDefaults(t *testing.T) {
	digester, err := NewFileDigester("SHA512", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*1024*1024, digester.BufferSize)
	assert.Equal(t, HashTypeSHA512, digester.Algorithm.TypeID)

	_, err = NewFileDigester("md5", 0, nil)
	assert.Error(t, err)
}

func TestFileDigesterErrors(t *testing.T) {
	digester, err := NewFileDigester("sha256", 0, nil)
	require.NoError(t, err)

	_, err = digester.Digest(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHashFileInterruptible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 4096)), 0644))

	alg, err := GetHashAlgorithm("sha256")
	require.NoError(t, err)

	shutdown := make(chan struct{})
	close(shutdown)

	_, err = HashFileInterruptible(path, alg, 512, shutdown)
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestDigesterFunc(t *testing.T) {
	var d Digester = DigesterFunc(func(path string) (string, error) {
		return "digest-of-" + filepath.Base(path), nil
	})
	digest, err := d.Digest("/a/b")
	require.NoError(t, err)
	assert.Equal(t, "digest-of-b", digest)
}

func TestValidDigest(t *testing.T) {
	assert.True(t, validDigest("AAA"))
	assert.True(t, validDigest("0123abcdef"))
	assert.False(t, validDigest(""))
	assert.False(t, validDigest("has space"))
	assert.False(t, validDigest("tab\there"))
	assert.False(t, validDigest("new\nline"))
	assert.False(t, validDigest("caf\xc3\xa9"))
}
