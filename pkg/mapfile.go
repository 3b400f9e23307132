package bernard

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/vectorio"
	"golang.org/x/sys/unix"
)

// maxIovecs bounds a single writev call (Linux IOV_MAX)
const maxIovecs = 1024

// MapStore reads and writes the versioned map file.
//
// Layout (version 1):
//
//	1
//	"<quoted path>"\t<mtime ns>\t<digest>\t<sequence>\t<flags>
//
// Paths are Go-quoted so tabs, newlines, quotes and invalid UTF-8 survive
// a round trip and every record stays on one line. flags is "-" for a live
// entry and "d" for a tombstone. Records are written in path order.
type MapStore struct {
	rename func(oldpath, newpath string) error
}

// NewMapStore creates a map store that replaces files with os.Rename
func NewMapStore() *MapStore {
	return &MapStore{rename: os.Rename}
}

// Load reads the map file at path. Every live entry starts the run stale.
// A missing file yields an error matching ErrMapMissing and fs.ErrNotExist;
// a file that cannot be parsed yields a *FormatError.
func (s *MapStore) Load(path string) (*Cache, error) {
	defer VerboseEnter()()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrMapMissing, err)
		}
		return nil, fmt.Errorf("failed to open map file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat map file: %w", err)
	}
	if stat.Size() == 0 {
		return nil, &FormatError{Path: path, Line: 1, Msg: "missing version line"}
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap map file: %w", err)
	}
	defer unix.Munmap(data)

	cache, err := parseMap(path, data)
	if err != nil {
		return nil, err
	}

	if IsDebugEnabled("mapfile") {
		VerboseLog(2, "loaded %d entries from %s", cache.Len(), path)
	}
	return cache, nil
}

// parseMap builds a cache from map file contents. Strings are copied out
// of data, which may be unmapped as soon as this returns.
func parseMap(path string, data []byte) (*Cache, error) {
	header, rest, _ := bytes.Cut(data, []byte{'\n'})
	version, err := strconv.Atoi(string(header))
	if err != nil {
		return nil, &FormatError{Path: path, Line: 1, Msg: fmt.Sprintf("invalid version line %q", header)}
	}
	if version != MapFileVersion {
		return nil, &FormatError{Path: path, Line: 1, Msg: fmt.Sprintf("unsupported map file version %d (supported: %d)", version, MapFileVersion)}
	}

	cache := NewCache()
	lineNum := 1
	for len(rest) > 0 {
		lineNum++
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte{'\n'})

		tf, tombstone, err := parseRecord(string(line))
		if err != nil {
			return nil, &FormatError{Path: path, Line: lineNum, Msg: err.Error()}
		}
		if cache.contains(tf.Path) {
			return nil, &FormatError{Path: path, Line: lineNum, Msg: fmt.Sprintf("duplicate path %q", tf.Path)}
		}

		state := stateStale
		if tombstone {
			state = stateTombstone
		}
		cache.put(tf, state)
	}

	return cache, nil
}

// parseRecord decodes one record line
func parseRecord(line string) (TrackedFile, bool, error) {
	var tf TrackedFile

	if !strings.HasPrefix(line, `"`) {
		return tf, false, fmt.Errorf("record must start with a quoted path")
	}
	quoted, err := strconv.QuotedPrefix(line)
	if err != nil {
		return tf, false, fmt.Errorf("invalid quoted path: %w", err)
	}
	tf.Path, err = strconv.Unquote(quoted)
	if err != nil {
		return tf, false, fmt.Errorf("invalid quoted path: %w", err)
	}
	if tf.Path == "" {
		return tf, false, fmt.Errorf("empty path")
	}

	rest := line[len(quoted):]
	if len(rest) == 0 || rest[0] != fieldSep {
		return tf, false, fmt.Errorf("missing field separator after path")
	}
	fields := strings.Split(rest[1:], string(fieldSep))
	if len(fields) != 4 {
		return tf, false, fmt.Errorf("expected 4 fields after path, got %d", len(fields))
	}

	tf.Attrs.ModTime, err = strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return tf, false, fmt.Errorf("invalid mtime %q: %w", fields[0], err)
	}

	if !validDigest(fields[1]) {
		return tf, false, fmt.Errorf("invalid digest %q", fields[1])
	}
	tf.Attrs.Digest = fields[1]

	seq, err := strconv.ParseUint(fields[2], 10, 16)
	if err != nil {
		return tf, false, fmt.Errorf("invalid sequence %q: %w", fields[2], err)
	}
	tf.Attrs.Sequence = uint16(seq)

	switch fields[3] {
	case flagLive:
		return tf, false, nil
	case flagTombstone:
		return tf, true, nil
	default:
		return tf, false, fmt.Errorf("invalid flags %q", fields[3])
	}
}

// appendRecord encodes one record line, newline included
func appendRecord(buf []byte, tf *TrackedFile, state entryState) []byte {
	buf = strconv.AppendQuote(buf, tf.Path)
	buf = append(buf, fieldSep)
	buf = strconv.AppendInt(buf, tf.Attrs.ModTime, 10)
	buf = append(buf, fieldSep)
	buf = append(buf, tf.Attrs.Digest...)
	buf = append(buf, fieldSep)
	buf = strconv.AppendUint(buf, uint64(tf.Attrs.Sequence), 10)
	buf = append(buf, fieldSep)
	if state == stateTombstone {
		buf = append(buf, flagTombstone...)
	} else {
		buf = append(buf, flagLive...)
	}
	return append(buf, '\n')
}

// encodeMap renders the whole cache as one buffer per line
func encodeMap(cache *Cache) ([][]byte, error) {
	buffers := make([][]byte, 0, cache.Len()+1)
	buffers = append(buffers, []byte(strconv.Itoa(MapFileVersion)+"\n"))

	var encodeErr error
	cache.forEach(func(tf *TrackedFile, state entryState) bool {
		if !validDigest(tf.Attrs.Digest) {
			encodeErr = fmt.Errorf("entry %q has invalid digest %q", tf.Path, tf.Attrs.Digest)
			return false
		}
		buffers = append(buffers, appendRecord(nil, tf, state))
		return true
	})
	if encodeErr != nil {
		return nil, encodeErr
	}
	return buffers, nil
}

// Save writes cache to path through a temporary sibling and an atomic
// rename, so path always holds either the previous or the new complete map
func (s *MapStore) Save(path string, cache *Cache) error {
	defer VerboseEnter()()

	buffers, err := encodeMap(cache)
	if err != nil {
		return &PersistError{Op: PersistWrite, Path: path, Err: err}
	}

	tempPath := tempPathFor(path)
	if err := writeBuffersToFile(tempPath, buffers); err != nil {
		os.Remove(tempPath)
		return &PersistError{Op: PersistWrite, Path: path, TempPath: tempPath, Err: err}
	}

	if err := s.rename(tempPath, path); err != nil {
		perr := &PersistError{Op: PersistRename, Path: path, TempPath: tempPath, Err: err}
		if rmErr := os.Remove(tempPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			perr.TempRemains = true
		}
		return perr
	}

	if err := syncDir(filepath.Dir(path)); err != nil {
		Logger().Warn().Err(err).Str("path", path).Msg("failed to sync map file directory")
	}

	if IsDebugEnabled("mapfile") {
		VerboseLog(2, "saved %d entries to %s", cache.Len(), path)
	}
	return nil
}

// tempPathFor names the temporary sibling of a map file with PID and timestamp
func tempPathFor(path string) string {
	return filepath.Join(filepath.Dir(path),
		fmt.Sprintf(".%s%s%d-%d", filepath.Base(path), mapTempInfix, os.Getpid(), time.Now().UnixNano()))
}

// writeBuffersToFile creates outputPath exclusively and writes all buffers with writev
func writeBuffersToFile(outputPath string, buffers [][]byte) error {
	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp map file %s: %w", outputPath, err)
	}

	if err := writeBuffers(file, buffers); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp map file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp map file: %w", err)
	}
	return nil
}

// writeBuffers writes buffers in IOV_MAX sized writev chunks
func writeBuffers(file *os.File, buffers [][]byte) error {
	iovecs := make([]syscall.Iovec, 0, len(buffers))
	expected := 0
	for _, b := range buffers {
		if len(b) == 0 {
			continue
		}
		iov := syscall.Iovec{Base: &b[0]}
		iov.SetLen(len(b))
		iovecs = append(iovecs, iov)
		expected += len(b)
	}

	totalWritten := 0
	for offset := 0; offset < len(iovecs); offset += maxIovecs {
		end := min(offset+maxIovecs, len(iovecs))
		chunk := iovecs[offset:end]

		chunkSize := 0
		for _, iov := range chunk {
			chunkSize += int(iov.Len)
		}

		nw, err := vectorio.WritevRaw(file.Fd(), chunk)
		if err != nil {
			return fmt.Errorf("failed to write map records with vectorio: %w", err)
		}
		if nw != chunkSize {
			return fmt.Errorf("map records write incomplete: wrote %d bytes, expected %d", nw, chunkSize)
		}
		totalWritten += nw
	}

	if totalWritten != expected {
		return fmt.Errorf("map write incomplete: wrote %d bytes, expected %d", totalWritten, expected)
	}
	return nil
}

// syncDir flushes a directory entry update (the rename) to disk
func syncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}
