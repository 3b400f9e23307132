package bernard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// RunLock is an exclusive advisory lock on <mapfile>.lock, held for the
// whole of a run so two runs never interleave on one map file
type RunLock struct {
	path string
	file *os.File
}

// AcquireRunLock takes the lock without blocking. A lock held by another
// process yields ErrLocked.
func AcquireRunLock(mapPath string) (*RunLock, error) {
	lockPath := mapPath + MapLockSuffix
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}

	// Record the holder for humans; the lock itself is the flock
	if err := file.Truncate(0); err == nil {
		file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	}

	return &RunLock{path: lockPath, file: file}, nil
}

// Path returns the lock file path
func (l *RunLock) Path() string {
	return l.path
}

// Release drops the lock. The lock file itself is left in place.
func (l *RunLock) Release() error {
	if l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}

// FindOrphanedTemps lists temporary map files next to mapPath that were
// left behind by processes that are no longer running
func FindOrphanedTemps(mapPath string) ([]string, error) {
	dir := filepath.Dir(mapPath)
	prefix := "." + filepath.Base(mapPath) + mapTempInfix

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read map directory: %w", err)
	}

	var orphans []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		pid := extractPidFromTempName(strings.TrimPrefix(name, prefix))
		if pid > 0 && !isProcessRunning(pid) {
			orphans = append(orphans, filepath.Join(dir, name))
		}
	}
	return orphans, nil
}

// extractPidFromTempName extracts the PID from a "<pid>-<nanos>" suffix
func extractPidFromTempName(suffix string) int {
	pidStr, _, ok := strings.Cut(suffix, "-")
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0
	}
	return pid
}

// isProcessRunning checks if a process with the given PID is currently running
func isProcessRunning(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM: the process exists but belongs to someone else
	return errors.Is(err, unix.EPERM)
}
