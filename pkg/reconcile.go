package bernard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Classification is the outcome for one path in a run
type Classification int

const (
	ClassNew              Classification = iota // not in the map
	ClassChanged                                // content differs from the map
	ClassUnchanged                              // mtime matches, not digested
	ClassUnchangedContent                       // mtime differs, digest matches
	ClassDeleted                                // in the map, not found on disk
	ClassError                                  // seen but not classifiable
)

func (c Classification) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassChanged:
		return "changed"
	case ClassUnchanged:
		return "unchanged"
	case ClassUnchangedContent:
		return "unchanged-content"
	case ClassDeleted:
		return "deleted"
	case ClassError:
		return "error"
	default:
		return "unknown"
	}
}

// Reporter receives every classification as it is made. err is only set
// for ClassError.
type Reporter interface {
	Report(path string, class Classification, err error)
}

// ReporterFunc adapts a plain function to the Reporter interface
type ReporterFunc func(path string, class Classification, err error)

// Report calls f
func (f ReporterFunc) Report(path string, class Classification, err error) {
	f(path, class, err)
}

// FileError is a per-path failure recorded in a RunResult
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RunResult summarises one reconciliation run
type RunResult struct {
	Root             string      `json:"root"`
	MapFile          string      `json:"map_file"`
	New              []string    `json:"new"`
	Changed          []string    `json:"changed"`
	Deleted          []string    `json:"deleted"`
	Errors           []FileError `json:"errors,omitempty"`
	Unchanged        int         `json:"unchanged"`
	UnchangedContent int         `json:"unchanged_content"`
	Cache            CacheStats  `json:"cache"`
}

// HasChanges returns true if any file was added, changed or deleted
func (r *RunResult) HasChanges() bool {
	return r.TotalChanges() > 0
}

// TotalChanges returns the number of added, changed and deleted files
func (r *RunResult) TotalChanges() int {
	return len(r.New) + len(r.Changed) + len(r.Deleted)
}

// Reconciler runs one mark-and-sweep pass of Root against the map file at
// MapPath. Zero-valued optional fields get defaults: a FileDigester for
// sha256, a MapStore using os.Rename, the tombstone policy and no filter.
type Reconciler struct {
	MapPath       string
	Root          string
	Digester      Digester
	Filter        *PathFilter
	Store         *MapStore
	DeletedPolicy string
	Reporter      Reporter
}

// NewReconciler creates a reconciler with default settings
func NewReconciler(mapPath, root string, digester Digester) *Reconciler {
	return &Reconciler{
		MapPath:       mapPath,
		Root:          root,
		Digester:      digester,
		Store:         NewMapStore(),
		DeletedPolicy: DeletedTombstone,
	}
}

// NewReconcilerFromConfig creates a reconciler whose digester, filter and
// deletion policy come from cfg. shutdown also interrupts digests in flight.
func NewReconcilerFromConfig(mapPath, root string, cfg *Config, shutdown <-chan struct{}) (*Reconciler, error) {
	hashConfig := cfg.GetHashConfig()
	bufferSize, err := ParseHumanSize(hashConfig.Buffer)
	if err != nil {
		return nil, fmt.Errorf("invalid hash buffer: %w", err)
	}
	digester, err := NewFileDigester(hashConfig.Default, bufferSize, shutdown)
	if err != nil {
		return nil, err
	}

	normalized, err := NormalizeRoot(root)
	if err != nil {
		return nil, err
	}
	filter, err := cfg.NewFilter(normalized)
	if err != nil {
		return nil, err
	}

	r := NewReconciler(mapPath, normalized, digester)
	r.Filter = filter
	r.DeletedPolicy = cfg.GetCacheConfig().Deleted
	return r, nil
}

// NormalizeRoot makes root absolute, resolves symlinks in it and cleans it,
// so every tracked path has exactly one spelling. A root that does not
// resolve is returned cleaned and absolute; the walk reports the failure.
func NormalizeRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// normalizeMapPath spells the map file path the way the walker will see it
// if the map lives under the root
func normalizeMapPath(mapPath string) (string, error) {
	abs, err := filepath.Abs(mapPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve map file %s: %w", mapPath, err)
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}
	return abs, nil
}

// Run performs one reconciliation. Per-file failures are reported and
// recorded in the result without aborting. A root that cannot be opened, a
// malformed map file, a held lock or a shutdown abort the run before
// anything is saved. A save failure is returned together with the result
// of the completed classification.
func (r *Reconciler) Run(shutdown <-chan struct{}) (*RunResult, error) {
	defer VerboseEnter()()

	if r.Digester == nil {
		return nil, fmt.Errorf("reconciler has no digester")
	}
	root, err := NormalizeRoot(r.Root)
	if err != nil {
		return nil, err
	}
	mapPath, err := normalizeMapPath(r.MapPath)
	if err != nil {
		return nil, err
	}
	store := r.Store
	if store == nil {
		store = NewMapStore()
	}

	lock, err := AcquireRunLock(mapPath)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	warnOrphanedTemps(mapPath)

	cache, err := store.Load(mapPath)
	switch {
	case errors.Is(err, ErrMapMissing):
		VerboseLog(1, "no map file at %s, starting empty", mapPath)
		cache = NewCache()
	case err != nil:
		return nil, fmt.Errorf("failed to load map file: %w", err)
	}

	filter := r.Filter
	if filter == nil {
		filter = NewPathFilter(root)
	}
	filter.ExcludePath(mapPath)
	filter.ExcludePath(lock.Path())
	filter.ExcludePrefix(filepath.Join(filepath.Dir(mapPath), "."+filepath.Base(mapPath)+mapTempInfix))

	run := &reconcileRun{
		cache:    cache,
		digester: r.Digester,
		reporter: r.Reporter,
		result:   &RunResult{Root: root, MapFile: mapPath},
	}

	walker := &Walker{Filter: filter, Shutdown: shutdown}
	if err := walker.Walk(root, run); err != nil {
		return nil, fmt.Errorf("walk of %s aborted: %w", root, err)
	}
	if run.interrupted || isClosed(shutdown) {
		return nil, ErrInterrupted
	}

	// Collect first: the deletion policy mutates the cache
	deleted := slices.Collect(cache.SweepDeleted())
	for _, path := range deleted {
		run.report(path, ClassDeleted, nil)
		if strings.EqualFold(r.DeletedPolicy, DeletedPurge) {
			cache.Purge(path)
		} else {
			cache.Tombstone(path)
		}
	}

	run.result.Cache = cache.Stats()
	VerboseLog(1, "%s: %d new, %d changed, %d deleted, %d unchanged, %d errors",
		root, len(run.result.New), len(run.result.Changed), len(run.result.Deleted),
		run.result.Unchanged+run.result.UnchangedContent, len(run.result.Errors))

	if err := store.Save(mapPath, cache); err != nil {
		return run.result, err
	}
	return run.result, nil
}

// warnOrphanedTemps logs temporary map files left by runs that died
func warnOrphanedTemps(mapPath string) {
	orphans, err := FindOrphanedTemps(mapPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			Logger().Warn().Err(err).Str("map", mapPath).Msg("could not check for orphaned temporary files")
		}
		return
	}
	for _, orphan := range orphans {
		Logger().Warn().Str("path", orphan).Msg("orphaned temporary map file, safe to remove")
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// reconcileRun is the walk visitor for a single Run
type reconcileRun struct {
	cache       *Cache
	digester    Digester
	reporter    Reporter
	result      *RunResult
	interrupted bool
}

func (run *reconcileRun) VisitFile(path string, info os.FileInfo) {
	if run.interrupted {
		return
	}
	modTime := info.ModTime().UnixNano()

	cached, known := run.cache.Lookup(path)
	if known && cached.ModTime == modTime {
		run.cache.MarkUnchangedObservation(path)
		run.report(path, ClassUnchanged, nil)
		return
	}

	digest, err := run.digest(path)
	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			run.interrupted = true
			return
		}
		run.cache.MarkFailedObservation(path)
		run.report(path, ClassError, err)
		return
	}

	switch {
	case !known:
		var seq uint16
		if previous, ok := run.cache.LookupTombstone(path); ok {
			seq = previous.Sequence + 1
		}
		run.cache.RecordObservation(path, FileAttributes{ModTime: modTime, Digest: digest, Sequence: seq})
		run.report(path, ClassNew, nil)
	case digest == cached.Digest:
		run.cache.MarkUnchangedObservation(path)
		run.report(path, ClassUnchangedContent, nil)
	default:
		run.cache.RecordObservation(path, FileAttributes{ModTime: modTime, Digest: digest, Sequence: cached.Sequence + 1})
		run.report(path, ClassChanged, nil)
	}
}

func (run *reconcileRun) VisitDir(path string) {
	if IsDebugEnabled("reconcile") {
		VerboseLog(3, "entering %s", path)
	}
}

func (run *reconcileRun) VisitError(path string, err error) {
	var walkErr *WalkError
	if errors.As(err, &walkErr) && walkErr.Kind == SubtreeOpen {
		if n := run.cache.MarkFailedSubtree(path); n > 0 {
			VerboseLog(1, "%d known files under %s kept as unverified", n, path)
		}
	} else {
		// The entry may be a known file or a known directory
		run.cache.MarkFailedObservation(path)
		run.cache.MarkFailedSubtree(path)
	}
	run.report(path, ClassError, err)
}

func (run *reconcileRun) digest(path string) (string, error) {
	digest, err := run.digester.Digest(path)
	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			return "", err
		}
		return "", &DigestError{Path: path, Err: err}
	}
	if !validDigest(digest) {
		return "", &DigestError{Path: path, Err: fmt.Errorf("digester returned unusable digest %q", digest)}
	}
	return digest, nil
}

func (run *reconcileRun) report(path string, class Classification, err error) {
	switch class {
	case ClassNew:
		run.result.New = append(run.result.New, path)
	case ClassChanged:
		run.result.Changed = append(run.result.Changed, path)
	case ClassDeleted:
		run.result.Deleted = append(run.result.Deleted, path)
	case ClassUnchanged:
		run.result.Unchanged++
	case ClassUnchangedContent:
		run.result.UnchangedContent++
	case ClassError:
		run.result.Errors = append(run.result.Errors, FileError{Path: path, Error: err.Error()})
		Logger().Warn().Err(err).Str("path", path).Msg("skipped")
	}

	if IsDebugEnabled("reconcile") {
		VerboseLog(2, "%s %s", class, path)
	}
	if run.reporter != nil {
		run.reporter.Report(path, class, err)
	}
}
