package bernard

import (
	"iter"
	"path/filepath"
	"strings"
	"unsafe"

	zcsl "github.com/mattkeenan/zerocopyskiplist"
)

// FileAttributes is the last known state of a tracked file
type FileAttributes struct {
	ModTime  int64  // modification time, unix nanoseconds
	Digest   string // content fingerprint as of the run that recorded it
	Sequence uint16 // content version counter, bumped on every recorded change
}

// TrackedFile pairs a normalised absolute path with its attributes
type TrackedFile struct {
	Path  string
	Attrs FileAttributes
}

// entryState is stored as the skiplist node context
type entryState uint8

const (
	stateStale     entryState = iota // loaded, not yet observed this run
	stateConfirmed                   // observed this run
	stateFailed                      // observed but not classifiable; never swept
	stateTombstone                   // deleted in an earlier run
)

func (s entryState) String() string {
	switch s {
	case stateStale:
		return "stale"
	case stateConfirmed:
		return "confirmed"
	case stateFailed:
		return "failed"
	case stateTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// CacheStats counts cache entries by state
type CacheStats struct {
	Stale      int `json:"stale"`
	Confirmed  int `json:"confirmed"`
	Failed     int `json:"failed"`
	Tombstones int `json:"tombstones"`
}

// Live returns the number of entries that are not tombstones
func (s CacheStats) Live() int {
	return s.Stale + s.Confirmed + s.Failed
}

// Cache is the reconciliation cache: one path-ordered skiplist whose node
// context carries the mark-and-sweep state of each entry.
// A Cache is not safe for concurrent use.
type Cache struct {
	list *zcsl.ZeroCopySkiplist[TrackedFile, string, entryState]
}

// NewCache creates an empty cache
func NewCache() *Cache {
	getKeyFromItem := func(tf *TrackedFile) string {
		return tf.Path
	}
	getItemSize := func(tf *TrackedFile) int {
		return int(unsafe.Sizeof(*tf)) + len(tf.Path) + len(tf.Attrs.Digest)
	}

	return &Cache{
		list: zcsl.MakeZeroCopySkiplist[TrackedFile, string, entryState](
			16,
			getKeyFromItem,
			getItemSize,
			strings.Compare,
		),
	}
}

// Len returns the number of entries, tombstones included
func (c *Cache) Len() int {
	return c.list.Length()
}

// Lookup returns the cached attributes of a live entry. It does not change
// the entry's state.
func (c *Cache) Lookup(path string) (FileAttributes, bool) {
	node, state := c.list.Find(path)
	if node == nil || state == stateTombstone {
		return FileAttributes{}, false
	}
	return node.Item().Attrs, true
}

// LookupTombstone returns the last attributes of a path deleted in an earlier run
func (c *Cache) LookupTombstone(path string) (FileAttributes, bool) {
	node, state := c.list.Find(path)
	if node == nil || state != stateTombstone {
		return FileAttributes{}, false
	}
	return node.Item().Attrs, true
}

// RecordObservation inserts or overwrites the entry for path and marks it
// observed for this run
func (c *Cache) RecordObservation(path string, attrs FileAttributes) {
	c.put(TrackedFile{Path: path, Attrs: attrs}, stateConfirmed)
}

// MarkUnchangedObservation marks a known path observed without touching its
// stored attributes
func (c *Cache) MarkUnchangedObservation(path string) {
	c.setState(path, stateConfirmed)
}

// MarkFailedObservation records that a known path was seen but could not be
// classified. The entry keeps its attributes and is excluded from the sweep.
// Unknown paths are not inserted.
func (c *Cache) MarkFailedObservation(path string) {
	c.setState(path, stateFailed)
}

// MarkFailedSubtree marks every not yet observed entry below dir as failed,
// so an unreadable directory does not turn its contents into deletions
func (c *Cache) MarkFailedSubtree(dir string) int {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)

	var below []string
	for node := c.list.First(); node != nil; node = node.Next() {
		path := node.Item().Path
		if node.Context() == stateStale && strings.HasPrefix(path, prefix) {
			below = append(below, path)
		}
	}
	for _, path := range below {
		c.list.UpdateContext(path, stateFailed)
	}
	return len(below)
}

// SweepDeleted yields, in path order, every entry that was loaded and not
// observed during this run. It does not modify the cache.
func (c *Cache) SweepDeleted() iter.Seq[string] {
	return func(yield func(string) bool) {
		for node := c.list.First(); node != nil; node = node.Next() {
			if node.Context() != stateStale {
				continue
			}
			if !yield(node.Item().Path) {
				return
			}
		}
	}
}

// Tombstone keeps a swept entry as deletion history. Tombstones are not
// reported by Lookup or SweepDeleted.
func (c *Cache) Tombstone(path string) {
	c.setState(path, stateTombstone)
}

// Purge removes an entry entirely
func (c *Cache) Purge(path string) {
	c.list.Delete(path)
}

// All yields every live entry in path order
func (c *Cache) All() iter.Seq2[string, FileAttributes] {
	return func(yield func(string, FileAttributes) bool) {
		for node := c.list.First(); node != nil; node = node.Next() {
			if node.Context() == stateTombstone {
				continue
			}
			tf := node.Item()
			if !yield(tf.Path, tf.Attrs) {
				return
			}
		}
	}
}

// Stats counts entries by state
func (c *Cache) Stats() CacheStats {
	var stats CacheStats
	for node := c.list.First(); node != nil; node = node.Next() {
		switch node.Context() {
		case stateStale:
			stats.Stale++
		case stateConfirmed:
			stats.Confirmed++
		case stateFailed:
			stats.Failed++
		case stateTombstone:
			stats.Tombstones++
		}
	}
	return stats
}

// forEach visits every entry, tombstones included, in path order
func (c *Cache) forEach(callback func(tf *TrackedFile, state entryState) bool) {
	for node := c.list.First(); node != nil; node = node.Next() {
		if !callback(node.Item(), node.Context()) {
			return
		}
	}
}

// contains reports whether path has an entry in any state
func (c *Cache) contains(path string) bool {
	node, _ := c.list.Find(path)
	return node != nil
}

// put replaces any existing entry for tf.Path
func (c *Cache) put(tf TrackedFile, state entryState) {
	if node, _ := c.list.Find(tf.Path); node != nil {
		c.list.Delete(tf.Path)
	}
	c.list.Insert(&tf, state)
}

func (c *Cache) setState(path string, state entryState) {
	node, current := c.list.Find(path)
	if node == nil || current == state {
		return
	}
	// Tombstones only come back to life through RecordObservation
	if current == stateTombstone && state != stateTombstone {
		return
	}
	c.list.UpdateContext(path, state)
}
