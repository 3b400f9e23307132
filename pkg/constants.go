package bernard

import "strings"

// Map file format constants
const (
	MapFileVersion = 1 // Current map file format version
	MapLockSuffix  = ".lock"
	MapConfSuffix  = ".conf"
	mapTempInfix   = ".tmp-" // temp files are named .<base>.tmp-<pid>-<nanos>
)

// Record field separators and flags
const (
	fieldSep      = '\t'
	flagLive      = "-"
	flagTombstone = "d"
)

// Hash type constants
const (
	HashTypeSHA1   uint16 = 1 // SHA-1 (20 bytes)
	HashTypeSHA256 uint16 = 2 // SHA-256 (32 bytes)
	HashTypeSHA512 uint16 = 3 // SHA-512 (64 bytes)
)

// Hash size constants
const (
	HashSizeSHA1   = 20
	HashSizeSHA256 = 32
	HashSizeSHA512 = 64
)

// HashTypeName returns the human-readable name for a hash type
func HashTypeName(hashType uint16) string {
	switch hashType {
	case HashTypeSHA1:
		return "sha1"
	case HashTypeSHA256:
		return "sha256"
	case HashTypeSHA512:
		return "sha512"
	default:
		return "unknown"
	}
}

// HashTypeFromName returns the hash type constant from a name (case-insensitive)
func HashTypeFromName(name string) (uint16, bool) {
	switch strings.ToLower(name) {
	case "sha1":
		return HashTypeSHA1, true
	case "sha256":
		return HashTypeSHA256, true
	case "sha512":
		return HashTypeSHA512, true
	default:
		return 0, false
	}
}

// Deletion policies applied to swept entries
const (
	DeletedTombstone = "tombstone" // keep the entry, flagged as deleted
	DeletedPurge     = "purge"     // drop the entry from the map
)

// Output formats
const (
	OutputHuman = "human"
	OutputJSON  = "json"
)
