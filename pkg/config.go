package bernard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

// Config represents the bernard configuration file
type Config struct {
	configPath string
	ini        *ini.File
}

// HashConfig represents hash algorithm configuration
type HashConfig struct {
	Default string // Default hash algorithm
	Buffer  string // Read buffer size for hashing (default: "2M")
}

// OutputConfig represents output format configuration
type OutputConfig struct {
	Format string // human or json
}

// VerboseConfig represents verbosity configuration
type VerboseConfig struct {
	Level int    // 0=quiet, 1=basic, 2=detailed, 3=trace
	Debug string // comma-separated debug flags
}

// CacheConfig represents the map file policy configuration
type CacheConfig struct {
	Deleted string // tombstone or purge
}

// FilterConfig represents which files take part in a run
type FilterConfig struct {
	Whitelist []string // extensions, whitespace separated in the file
	Blacklist []string
	Ignore    []string // one regular expression per "ignore" line
}

// AllConfig represents all configuration options
type AllConfig struct {
	Hash    *HashConfig
	Output  *OutputConfig
	Verbose *VerboseConfig
	Cache   *CacheConfig
	Filter  *FilterConfig
}

var iniOptions = ini.LoadOptions{AllowShadows: true}

// DefaultConfigPath returns the config file used for a map file when none is given
func DefaultConfigPath(mapPath string) string {
	return mapPath + MapConfSuffix
}

// LoadConfig loads configuration from configPath. A missing file is not an
// error: built-in defaults apply and nothing is written.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{configPath: configPath}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		cfg.ini = ini.Empty(iniOptions)
		if err := cfg.setDefaults(); err != nil {
			return nil, fmt.Errorf("failed to set default config: %w", err)
		}
		return cfg, nil
	}

	iniFile, err := ini.LoadSources(iniOptions, configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	cfg.ini = iniFile

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() error {
	defaults := []struct {
		section, key, value string
	}{
		{"filehash", "default", "sha256"},
		{"performance", "hash_buffer", "2M"},
		{"output", "format", OutputHuman},
		{"verbose", "level", "0"},
		{"verbose", "debug", ""},
		{"cache", "deleted", DeletedTombstone},
	}

	for _, d := range defaults {
		if _, err := c.ini.Section(d.section).NewKey(d.key, d.value); err != nil {
			return fmt.Errorf("failed to set default %s.%s: %w", d.section, d.key, err)
		}
	}
	return nil
}

// GetHashConfig returns the hash configuration
func (c *Config) GetHashConfig() *HashConfig {
	hashConfig := &HashConfig{
		Default: "sha256",
		Buffer:  "2M",
	}

	if c.ini.HasSection("filehash") {
		section := c.ini.Section("filehash")
		if section.HasKey("default") {
			hashConfig.Default = section.Key("default").String()
		}
	}
	if c.ini.HasSection("performance") {
		section := c.ini.Section("performance")
		if section.HasKey("hash_buffer") {
			if bufferSize := section.Key("hash_buffer").String(); bufferSize != "" {
				hashConfig.Buffer = bufferSize
			}
		}
	}

	return hashConfig
}

// GetOutputConfig returns the output configuration
func (c *Config) GetOutputConfig() *OutputConfig {
	outputConfig := &OutputConfig{Format: OutputHuman}

	if c.ini.HasSection("output") {
		section := c.ini.Section("output")
		if section.HasKey("format") {
			outputConfig.Format = strings.ToLower(section.Key("format").String())
		}
	}

	return outputConfig
}

// GetVerboseConfig returns the verbose configuration
func (c *Config) GetVerboseConfig() *VerboseConfig {
	verboseConfig := &VerboseConfig{}

	if c.ini.HasSection("verbose") {
		section := c.ini.Section("verbose")
		if section.HasKey("level") {
			if level, err := section.Key("level").Int(); err == nil {
				verboseConfig.Level = level
			}
		}
		if section.HasKey("debug") {
			verboseConfig.Debug = section.Key("debug").String()
		}
	}

	return verboseConfig
}

// GetCacheConfig returns the map file policy configuration
func (c *Config) GetCacheConfig() *CacheConfig {
	cacheConfig := &CacheConfig{Deleted: DeletedTombstone}

	if c.ini.HasSection("cache") {
		section := c.ini.Section("cache")
		if section.HasKey("deleted") {
			cacheConfig.Deleted = strings.ToLower(section.Key("deleted").String())
		}
	}

	return cacheConfig
}

// GetFilterConfig returns the file selection configuration
func (c *Config) GetFilterConfig() *FilterConfig {
	filterConfig := &FilterConfig{}
	if !c.ini.HasSection("filter") {
		return filterConfig
	}

	section := c.ini.Section("filter")
	if section.HasKey("whitelist") {
		filterConfig.Whitelist = strings.Fields(section.Key("whitelist").String())
	}
	if section.HasKey("blacklist") {
		filterConfig.Blacklist = strings.Fields(section.Key("blacklist").String())
	}
	if section.HasKey("ignore") {
		for _, pattern := range section.Key("ignore").ValueWithShadows() {
			if pattern = strings.TrimSpace(pattern); pattern != "" {
				filterConfig.Ignore = append(filterConfig.Ignore, pattern)
			}
		}
	}

	return filterConfig
}

// GetAllConfig returns all configuration options
func (c *Config) GetAllConfig() *AllConfig {
	return &AllConfig{
		Hash:    c.GetHashConfig(),
		Output:  c.GetOutputConfig(),
		Verbose: c.GetVerboseConfig(),
		Cache:   c.GetCacheConfig(),
		Filter:  c.GetFilterConfig(),
	}
}

// Path returns the file the configuration is read from and saved to
func (c *Config) Path() string {
	return c.configPath
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	return c.ini.SaveTo(c.configPath)
}

// ApplyOverrides applies command-line overrides to the configuration
// Accepts strings like "filehash:sha1", "format:json", "level:2", "debug:walk"
func (c *Config) ApplyOverrides(overrides []string) error {
	for _, override := range overrides {
		key, value, ok := strings.Cut(override, ":")
		if !ok {
			return fmt.Errorf("invalid override format '%s', expected 'key:value'", override)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "filehash":
			c.ini.Section("filehash").Key("default").SetValue(value)
		case "hash_buffer":
			c.ini.Section("performance").Key("hash_buffer").SetValue(value)
		case "format":
			c.ini.Section("output").Key("format").SetValue(value)
		case "level":
			c.ini.Section("verbose").Key("level").SetValue(value)
		case "debug":
			c.ini.Section("verbose").Key("debug").SetValue(value)
		case "deleted":
			c.ini.Section("cache").Key("deleted").SetValue(value)
		default:
			return fmt.Errorf("unsupported override key '%s' (supported: filehash, hash_buffer, format, level, debug, deleted)", key)
		}
	}

	return c.Validate()
}

// Validate checks every configuration value
func (c *Config) Validate() error {
	allConfig := c.GetAllConfig()

	if err := ValidateHashAlgorithm(allConfig.Hash.Default); err != nil {
		return err
	}
	if _, err := ParseHumanSize(allConfig.Hash.Buffer); err != nil {
		return fmt.Errorf("invalid hash buffer: %w", err)
	}
	if err := ValidateOutputFormat(allConfig.Output.Format); err != nil {
		return err
	}
	if c.ini.HasSection("verbose") && c.ini.Section("verbose").HasKey("level") {
		level, err := c.ini.Section("verbose").Key("level").Int()
		if err != nil {
			return fmt.Errorf("invalid verbose level: %w", err)
		}
		if err := ValidateVerboseLevel(level); err != nil {
			return err
		}
	}
	if err := ValidateDeletedPolicy(allConfig.Cache.Deleted); err != nil {
		return err
	}
	for _, pattern := range allConfig.Filter.Ignore {
		if err := NewPathFilter("/").AddPattern(pattern); err != nil {
			return err
		}
	}
	return nil
}

// NewFilter builds the path filter for a walk rooted at root
func (c *Config) NewFilter(root string) (*PathFilter, error) {
	filterConfig := c.GetFilterConfig()

	filter := NewPathFilter(root)
	filter.SetWhitelist(filterConfig.Whitelist)
	filter.SetBlacklist(filterConfig.Blacklist)
	for _, pattern := range filterConfig.Ignore {
		if err := filter.AddPattern(pattern); err != nil {
			return nil, err
		}
	}
	return filter, nil
}

// ValidateHashAlgorithm validates that a hash algorithm is supported
func ValidateHashAlgorithm(algorithm string) error {
	if _, ok := HashTypeFromName(algorithm); !ok {
		return fmt.Errorf("unsupported hash algorithm: %s (supported: sha1, sha256, sha512)", algorithm)
	}
	return nil
}

// ValidateOutputFormat validates that an output format is supported
func ValidateOutputFormat(format string) error {
	switch strings.ToLower(format) {
	case OutputHuman, OutputJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s (supported: human, json)", format)
	}
}

// ValidateVerboseLevel validates that a verbose level is valid
func ValidateVerboseLevel(level int) error {
	if level < 0 || level > 3 {
		return fmt.Errorf("invalid verbose level: %d (supported: 0-3)", level)
	}
	return nil
}

// ValidateDeletedPolicy validates the policy applied to swept entries
func ValidateDeletedPolicy(policy string) error {
	switch strings.ToLower(policy) {
	case DeletedTombstone, DeletedPurge:
		return nil
	default:
		return fmt.Errorf("unsupported deleted policy: %s (supported: tombstone, purge)", policy)
	}
}

// ParseHumanSize parses human-readable size strings (e.g., "2M", "512k", "1G")
func ParseHumanSize(sizeStr string) (int, error) {
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))

	numEnd := len(sizeStr)
	for i, char := range sizeStr {
		if !(char >= '0' && char <= '9' || char == '.') {
			numEnd = i
			break
		}
	}
	numPart, suffix := sizeStr[:numEnd], sizeStr[numEnd:]
	if numPart == "" {
		return 0, fmt.Errorf("no numeric part in size string: %s", sizeStr)
	}

	num, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric part in size string %s: %w", sizeStr, err)
	}

	var multiplier int64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unknown size suffix: %s", suffix)
	}

	result := int64(num * float64(multiplier))
	if result <= 0 {
		return 0, fmt.Errorf("size must be positive: %s", sizeStr)
	}
	if result > int64(^uint(0)>>1) {
		return 0, fmt.Errorf("size too large: %s", sizeStr)
	}

	return int(result), nil
}
