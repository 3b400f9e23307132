package bernard

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
)

// Visitor receives traversal events. VisitError gets a *WalkError whose
// Kind is EntryStat or SubtreeOpen.
type Visitor interface {
	VisitFile(path string, info os.FileInfo)
	VisitDir(path string)
	VisitError(path string, err error)
}

// VisitorFuncs adapts plain functions to Visitor; nil functions are no-ops
type VisitorFuncs struct {
	OnFile  func(path string, info os.FileInfo)
	OnDir   func(path string)
	OnError func(path string, err error)
}

func (v VisitorFuncs) VisitFile(path string, info os.FileInfo) {
	if v.OnFile != nil {
		v.OnFile(path, info)
	}
}

func (v VisitorFuncs) VisitDir(path string) {
	if v.OnDir != nil {
		v.OnDir(path)
	}
}

func (v VisitorFuncs) VisitError(path string, err error) {
	if v.OnError != nil {
		v.OnError(path, err)
	}
}

// Walker enumerates a directory tree depth-first, reporting every regular
// file once. It holds no per-walk state and may be reused.
type Walker struct {
	Filter   *PathFilter     // optional, prunes files and whole subtrees
	Shutdown <-chan struct{} // optional, a closed channel stops the walk
}

// Walk visits the tree below root. If root itself cannot be opened the walk
// fails with a TraversalStart *WalkError before any callback fires. Failures
// below root go to v.VisitError and the walk carries on with siblings.
// Symlinks, sockets, devices and fifos are skipped.
func (w *Walker) Walk(root string, v Visitor) error {
	defer VerboseEnter()()

	if v == nil {
		v = VisitorFuncs{}
	}

	info, err := os.Stat(root)
	if err != nil {
		return &WalkError{Kind: TraversalStart, Path: root, Err: err}
	}
	if !info.IsDir() {
		return &WalkError{Kind: TraversalStart, Path: root, Err: &fs.PathError{Op: "open", Path: root, Err: syscall.ENOTDIR}}
	}

	entries, err := readDirSorted(root)
	if err != nil && len(entries) == 0 {
		return &WalkError{Kind: TraversalStart, Path: root, Err: err}
	}
	if err != nil {
		// Partial listing of the root: report it, visit what was read
		v.VisitError(root, &WalkError{Kind: SubtreeOpen, Path: root, Err: err})
	}

	return w.walkEntries(root, entries, v)
}

func (w *Walker) walkEntries(dir string, entries []os.DirEntry, v Visitor) error {
	for _, entry := range entries {
		select {
		case <-w.Shutdown:
			return ErrInterrupted
		default:
		}

		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		path := filepath.Join(dir, name)

		info, err := os.Lstat(path)
		if err != nil {
			v.VisitError(path, &WalkError{Kind: EntryStat, Path: path, Err: err})
			continue
		}

		mode := info.Mode()
		switch {
		case mode.IsRegular():
			if w.Filter.ShouldSkip(path, false) {
				continue
			}
			if IsDebugEnabled("walk") {
				VerboseLog(3, "walk: file %s", path)
			}
			v.VisitFile(path, info)

		case mode.IsDir():
			if w.Filter.ShouldSkip(path, true) {
				if IsDebugEnabled("walk") {
					VerboseLog(3, "walk: pruned directory %s", path)
				}
				continue
			}
			v.VisitDir(path)

			children, err := readDirSorted(path)
			if err != nil {
				v.VisitError(path, &WalkError{Kind: SubtreeOpen, Path: path, Err: err})
			}
			if err := w.walkEntries(path, children, v); err != nil {
				return err
			}

		default:
			if IsDebugEnabled("walk") {
				VerboseLog(3, "walk: skipping %s (%s)", path, mode.Type())
			}
		}
	}
	return nil
}

// readDirSorted lists dir sorted by name. On a read error part way through
// it returns the entries read so far together with the error.
func readDirSorted(dir string) ([]os.DirEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	if err != nil {
		return entries, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	return entries, nil
}
