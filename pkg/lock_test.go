package bernard

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLockIsExclusive(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "home.map")

	lock, err := AcquireRunLock(mapPath)
	require.NoError(t, err)
	assert.Equal(t, mapPath+MapLockSuffix, lock.Path())

	// flock locks belong to the open file description, so a second open
	// conflicts even within one process
	_, err = AcquireRunLock(mapPath)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release(), "release is idempotent")

	again, err := AcquireRunLock(mapPath)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestFindOrphanedTemps(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "home.map")

	// Find a PID that is not running
	deadPid := 0
	for pid := 4000000; pid > 3000000; pid-- {
		if !isProcessRunning(pid) {
			deadPid = pid
			break
		}
	}
	require.NotZero(t, deadPid)

	orphan := filepath.Join(dir, fmt.Sprintf(".home.map.tmp-%d-123", deadPid))
	live := filepath.Join(dir, fmt.Sprintf(".home.map.tmp-%d-456", os.Getpid()))
	other := filepath.Join(dir, fmt.Sprintf(".other.map.tmp-%d-789", deadPid))
	for _, path := range []string{orphan, live, other} {
		require.NoError(t, os.WriteFile(path, []byte("1\n"), 0644))
	}

	orphans, err := FindOrphanedTemps(mapPath)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, orphans)
}

func TestExtractPidFromTempName(t *testing.T) {
	assert.Equal(t, 1234, extractPidFromTempName("1234-5678"))
	assert.Equal(t, 0, extractPidFromTempName("1234"))
	assert.Equal(t, 0, extractPidFromTempName("abc-5678"))
}
