package bernard

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is
var (
	ErrTraversalStart = errors.New("traversal start failed")
	ErrMapMissing     = errors.New("map file does not exist")
	ErrMapFormat      = errors.New("malformed map file")
	ErrPersist        = errors.New("failed to persist map file")
	ErrLocked         = errors.New("map file is locked by another run")
	ErrInterrupted    = errors.New("run interrupted by shutdown")
)

// WalkErrorKind says which step of the traversal failed
type WalkErrorKind int

const (
	TraversalStart WalkErrorKind = iota // root could not be opened
	EntryStat                           // entry type could not be determined
	SubtreeOpen                         // subdirectory could not be opened or read
)

func (k WalkErrorKind) String() string {
	switch k {
	case TraversalStart:
		return "traversal start"
	case EntryStat:
		return "entry stat"
	case SubtreeOpen:
		return "subtree open"
	default:
		return "unknown"
	}
}

// WalkError is reported by the walker, either returned (TraversalStart) or
// passed to Visitor.VisitError (EntryStat, SubtreeOpen)
type WalkError struct {
	Kind WalkErrorKind
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Kind, e.Path, e.Err)
}

func (e *WalkError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTraversalStart) match a start failure
func (e *WalkError) Is(target error) bool {
	return target == ErrTraversalStart && e.Kind == TraversalStart
}

// FormatError describes a map file that exists but cannot be parsed
type FormatError struct {
	Path string
	Line int // 1-based, 0 when the problem is not tied to a line
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func (e *FormatError) Unwrap() error {
	return ErrMapFormat
}

// PersistOp identifies the failing step of a save
type PersistOp int

const (
	PersistWrite  PersistOp = iota // temp file could not be created or written
	PersistRename                  // atomic replace failed after a complete write
)

func (op PersistOp) String() string {
	if op == PersistRename {
		return "rename"
	}
	return "write"
}

// PersistError is returned by MapStore.Save. For PersistWrite the previous
// map file is untouched. For PersistRename the previous map file is also
// untouched but TempPath may still exist on disk (see TempRemains).
type PersistError struct {
	Op          PersistOp
	Path        string
	TempPath    string
	TempRemains bool
	Err         error
}

func (e *PersistError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	if e.TempRemains {
		msg += fmt.Sprintf(" (temporary file %s left behind)", e.TempPath)
	}
	return msg
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersist, e.Err}
}

// DigestError means a file could not be read for fingerprinting
type DigestError struct {
	Path string
	Err  error
}

func (e *DigestError) Error() string {
	return fmt.Sprintf("failed to digest %s: %v", e.Path, e.Err)
}

func (e *DigestError) Unwrap() error {
	return e.Err
}
