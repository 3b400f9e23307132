package bernard

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// noExtension stands for extensionless files in white/blacklists
const noExtension = "none"

// PathFilter decides which walked paths take part in a run. Ignore
// patterns are regular expressions matched against the slash-separated
// path relative to the walk root (directories carry a trailing slash).
// Extension lists only apply to files.
type PathFilter struct {
	root      string
	patterns  []*regexp.Regexp
	exact     map[string]bool
	prefixes  map[string]bool
	whitelist map[string]bool
	blacklist map[string]bool
}

// NewPathFilter creates a filter for paths below root
func NewPathFilter(root string) *PathFilter {
	return &PathFilter{
		root:      filepath.Clean(root),
		exact:     make(map[string]bool),
		prefixes:  make(map[string]bool),
		whitelist: make(map[string]bool),
		blacklist: make(map[string]bool),
	}
}

// AddPattern adds a new ignore pattern
func (pf *PathFilter) AddPattern(patternStr string) error {
	pattern, err := regexp.Compile(patternStr)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %s - %w", patternStr, err)
	}
	pf.patterns = append(pf.patterns, pattern)
	return nil
}

// ExcludePath always skips one absolute path (the map file and its siblings)
func (pf *PathFilter) ExcludePath(path string) {
	pf.exact[filepath.Clean(path)] = true
}

// ExcludePrefix skips every path starting with prefix (temporary map files)
func (pf *PathFilter) ExcludePrefix(prefix string) {
	pf.prefixes[prefix] = true
}

// SetWhitelist replaces the extension whitelist. Extensions are given
// with their leading dot, or "none" for extensionless files.
func (pf *PathFilter) SetWhitelist(exts []string) {
	pf.whitelist = extensionSet(exts)
}

// SetBlacklist replaces the extension blacklist
func (pf *PathFilter) SetBlacklist(exts []string) {
	pf.blacklist = extensionSet(exts)
}

func extensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if ext != noExtension && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

// HasPatterns returns true if there are any ignore patterns loaded
func (pf *PathFilter) HasPatterns() bool {
	return len(pf.patterns) > 0
}

// ShouldSkip reports whether path must be left out of the walk
func (pf *PathFilter) ShouldSkip(path string, isDir bool) bool {
	if pf == nil {
		return false
	}
	if pf.exact[path] {
		return true
	}
	for prefix := range pf.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	if len(pf.patterns) > 0 {
		rel, err := filepath.Rel(pf.root, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		if isDir {
			rel += "/"
		}
		for _, pattern := range pf.patterns {
			if pattern.MatchString(rel) {
				return true
			}
		}
	}

	if isDir {
		return false
	}
	return !pf.acceptExtension(path)
}

// acceptExtension applies the white/blacklists; the whitelist wins when a
// file matches both
func (pf *PathFilter) acceptExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = noExtension
	}

	if len(pf.whitelist) == 0 {
		return !pf.blacklist[ext]
	}
	if len(pf.blacklist) == 0 {
		return pf.whitelist[ext]
	}
	return pf.whitelist[ext] || !pf.blacklist[ext]
}
