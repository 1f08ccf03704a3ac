package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tis24dev/homesave/internal/types"
	"github.com/tis24dev/homesave/pkg/utils"
)

const defaultBaseDir = "/opt/homesave"

// multiValueKeys accumulate across repeated lines instead of replacing.
var multiValueKeys = map[string]bool{
	"AGE_RECIPIENT":   true,
	"APP_CONFIG_DIRS": true,
}

// blockValueKeys may span KEY=" ... " over several lines.
var blockValueKeys = map[string]bool{
	"APP_CONFIG_DIRS": true,
}

// Restore overwrite policies accepted by RESTORE_OVERWRITE.
const (
	RestorePolicyOverwrite = "overwrite"
	RestorePolicySkip      = "skip"
)

// Config holds the full homesave configuration.
type Config struct {
	// Core switches
	BackupEnabled bool
	DebugLevel    types.LogLevel
	UseColor      bool
	DryRun        bool
	BaseDir       string
	HomeDir       string

	// Archive settings
	ArchiveMode    types.ArchiveMode
	ShardSizeMB    int
	ShardSizeBytes int64

	// Compression tuning
	CompressionType    types.CompressionType
	CompressionLevel   int
	CompressionMode    string
	CompressionThreads int

	// Safety floor
	MinDiskSpaceGB float64

	// Filesystem layout
	BackupPath string
	LogPath    string
	LockPath   string
	ConfigPath string

	// Encryption settings
	EncryptArchive   bool
	AgeRecipients    []string
	AgeRecipientFile string

	// Default key id for the GPG secret export
	GPGKeyID string

	// Category selection
	Categories        []string
	ExcludeCategories []string
	AppConfigDirs     []string

	// Restore settings
	RestoreOverwrite string

	// Retention (count based, 0 disables pruning)
	MaxBackups int

	// raw values as read from file and environment
	raw map[string]string
}

// LoadConfig reads the homesave.env configuration file.
func LoadConfig(path string) (*Config, error) {
	if !utils.FileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	values, err := parseEnvFile(path)
	if err != nil {
		return nil, err
	}

	c := &Config{ConfigPath: path, raw: values}
	c.loadEnvOverrides()
	if err := c.parse(); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	return c, nil
}

// DefaultConfig builds a configuration from built-in defaults plus any
// environment variable overrides, for runs without a homesave.env file.
func DefaultConfig() (*Config, error) {
	c := &Config{raw: make(map[string]string)}
	c.loadEnvOverrides()
	if err := c.parse(); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	return c, nil
}

// overridableKeys are the settings an environment variable may override.
// BASE_DIR is deliberately absent: the file value wins there, and the env
// value only serves as a default when the file does not set one.
var overridableKeys = []string{
	"BACKUP_ENABLED", "DRY_RUN", "DEBUG_LEVEL", "LOG_LEVEL", "USE_COLOR",
	"ARCHIVE_MODE", "SHARD_SIZE_MB", "SHARD_SIZE",
	"COMPRESSION_TYPE", "COMPRESSION_LEVEL", "COMPRESSION_MODE", "COMPRESSION_THREADS",
	"BACKUP_PATH", "LOG_PATH", "LOCK_PATH", "HOME_DIR",
	"ENCRYPT_ARCHIVE", "AGE_RECIPIENT", "AGE_RECIPIENT_FILE",
	"GPG_KEY_ID", "CATEGORIES", "EXCLUDE_CATEGORIES", "APP_CONFIG_DIRS",
	"RESTORE_OVERWRITE", "MAX_BACKUPS", "MIN_DISK_SPACE_GB",
}

func (c *Config) loadEnvOverrides() {
	for _, name := range overridableKeys {
		if env := os.Getenv(name); env != "" {
			c.raw[name] = env
		}
	}
}

// parse interprets the raw values. Ordering matters: the home and base
// directories must be resolved before the path keys that default to them.
func (c *Config) parse() error {
	c.parseGeneral()
	c.parsePaths()
	if err := c.parseArchive(); err != nil {
		return err
	}
	if err := c.parseCompression(); err != nil {
		return err
	}
	c.parseEncryption()
	c.parseCategories()
	if err := c.parseRestore(); err != nil {
		return err
	}

	c.MinDiskSpaceGB = sanitizeMinDisk(c.getFloat("MIN_DISK_SPACE_GB", 1.0))
	c.MaxBackups = c.getInt("MAX_BACKUPS", 10)
	if c.MaxBackups < 0 {
		c.MaxBackups = 0
	}
	return nil
}

func (c *Config) parseGeneral() {
	c.DryRun = c.getBool("DRY_RUN", false)
	c.BackupEnabled = c.getBool("BACKUP_ENABLED", true)

	// LOG_LEVEL is accepted as an alias for DEBUG_LEVEL.
	c.DebugLevel = c.firstLogLevel(types.LogLevelInfo, "DEBUG_LEVEL", "LOG_LEVEL")

	// DISABLE_COLORS is the inverted legacy spelling and wins when present.
	c.UseColor = c.getBool("USE_COLOR", true)
	if disabled, ok := c.raw["DISABLE_COLORS"]; ok {
		c.UseColor = !utils.ParseBool(disabled)
	}
}

func (c *Config) parsePaths() {
	// Home root the category sources resolve against.
	c.HomeDir = c.getString("HOME_DIR", os.Getenv("HOME"))
	if c.HomeDir == "" {
		c.HomeDir = "/root"
	}

	// Base directory: file value wins over env, default otherwise. Exported
	// so that ${BASE_DIR} references in later values resolve consistently.
	base := c.getPath("BASE_DIR", os.Getenv("BASE_DIR"))
	if base == "" {
		base = defaultBaseDir
	}
	c.BaseDir = base
	_ = os.Setenv("BASE_DIR", base)

	c.BackupPath = c.getPath("BACKUP_PATH", filepath.Join(base, "backup"))
	c.LogPath = c.getPath("LOG_PATH", filepath.Join(base, "log"))
	c.LockPath = c.getPath("LOCK_PATH", filepath.Join(base, "lock"))
}

func (c *Config) parseArchive() error {
	mode := strings.ToLower(strings.TrimSpace(c.getString("ARCHIVE_MODE", string(types.ArchiveModeSingle))))
	switch types.ArchiveMode(mode) {
	case types.ArchiveModeNone, types.ArchiveModeSingle, types.ArchiveModeSplit:
		c.ArchiveMode = types.ArchiveMode(mode)
	default:
		return fmt.Errorf("invalid ARCHIVE_MODE %q (want none, single or split)", mode)
	}

	// Shard size for split mode. SHARD_SIZE accepts a human readable size
	// ("500M", "1G") and overrides SHARD_SIZE_MB when present.
	c.ShardSizeMB = c.positiveInt("SHARD_SIZE_MB", 60)
	c.ShardSizeBytes = int64(c.ShardSizeMB) * 1024 * 1024
	rawSize := strings.TrimSpace(c.getString("SHARD_SIZE", ""))
	if rawSize == "" {
		return nil
	}
	sizeBytes, err := parseSizeToBytes(rawSize)
	if err != nil {
		return fmt.Errorf("invalid SHARD_SIZE: %w", err)
	}
	if sizeBytes > 0 {
		c.ShardSizeBytes = sizeBytes
	}
	return nil
}

func (c *Config) parseCompression() error {
	comp := strings.ToLower(strings.TrimSpace(c.getString("COMPRESSION_TYPE", string(types.CompressionGzip))))
	c.CompressionType = types.CompressionType(comp)
	switch c.CompressionType {
	case types.CompressionGzip, types.CompressionXZ, types.CompressionZstd,
		types.CompressionBzip2, types.CompressionNone:
	default:
		return fmt.Errorf("invalid COMPRESSION_TYPE %q (want gz, xz, zst, bz2 or none)", c.CompressionType)
	}

	c.CompressionLevel = c.getInt("COMPRESSION_LEVEL", 6)
	c.CompressionMode = strings.ToLower(c.getString("COMPRESSION_MODE", "standard"))
	if c.CompressionMode == "" {
		c.CompressionMode = "standard"
	}
	c.CompressionLevel = adjustLevelForMode(c.CompressionType, c.CompressionMode, c.CompressionLevel)

	c.CompressionThreads = c.getInt("COMPRESSION_THREADS", 0)
	if c.CompressionThreads < 0 {
		c.CompressionThreads = 0
	}
	return nil
}

func (c *Config) parseEncryption() {
	c.EncryptArchive = c.getBool("ENCRYPT_ARCHIVE", false)
	c.AgeRecipients = normalizeList(c.getStringSlice("AGE_RECIPIENT", nil))
	c.AgeRecipientFile = strings.TrimSpace(c.getPath("AGE_RECIPIENT_FILE", ""))
	c.GPGKeyID = strings.TrimSpace(c.getString("GPG_KEY_ID", ""))
}

func (c *Config) parseCategories() {
	c.Categories = normalizeList(c.getStringSlice("CATEGORIES", nil))
	c.ExcludeCategories = normalizeList(c.getStringSlice("EXCLUDE_CATEGORIES", nil))
	c.AppConfigDirs = normalizeList(c.getStringSlice("APP_CONFIG_DIRS", nil))
}

func (c *Config) parseRestore() error {
	overwrite := strings.ToLower(strings.TrimSpace(c.getString("RESTORE_OVERWRITE", RestorePolicyOverwrite)))
	switch overwrite {
	case RestorePolicyOverwrite, RestorePolicySkip:
		c.RestoreOverwrite = overwrite
		return nil
	default:
		return fmt.Errorf("invalid RESTORE_OVERWRITE %q (want overwrite or skip)", overwrite)
	}
}

// Typed accessors over the raw map.

func (c *Config) getString(key, def string) string {
	if raw, ok := c.raw[key]; ok {
		return expandEnvVars(raw)
	}
	return def
}

// getPath reads a path value, additionally expanding a leading ~ against the
// resolved home directory.
func (c *Config) getPath(key, def string) string {
	home := c.HomeDir
	if home == "" {
		home = os.Getenv("HOME")
	}
	return utils.ExpandHome(c.getString(key, def), home)
}

func (c *Config) getBool(key string, def bool) bool {
	if raw, ok := c.raw[key]; ok {
		return utils.ParseBool(raw)
	}
	return def
}

func (c *Config) getInt(key string, def int) int {
	if raw, ok := c.raw[key]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return def
}

func (c *Config) positiveInt(key string, def int) int {
	if n := c.getInt(key, def); n > 0 {
		return n
	}
	return def
}

func (c *Config) getFloat(key string, def float64) float64 {
	if raw, ok := c.raw[key]; ok {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return def
}

// Named debug levels kept for compatibility with older configurations.
var debugLevelNames = map[string]types.LogLevel{
	"standard": types.LogLevelInfo,
	"advanced": types.LogLevelDebug,
	"extreme":  types.LogLevelDebug,
}

func (c *Config) getLogLevel(key string, def types.LogLevel) types.LogLevel {
	raw, found := c.raw[key]
	if !found {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return types.LogLevel(n)
	}
	if level, ok := debugLevelNames[raw]; ok {
		return level
	}
	return def
}

// firstLogLevel resolves the first key that is set at all; later keys are
// ignored even if the first one fails to parse.
func (c *Config) firstLogLevel(def types.LogLevel, keys ...string) types.LogLevel {
	for _, key := range keys {
		if _, ok := c.raw[key]; ok {
			return c.getLogLevel(key, def)
		}
	}
	return def
}

func (c *Config) getStringSlice(key string, def []string) []string {
	if raw, ok := c.raw[key]; ok {
		return splitListValue(raw)
	}
	return def
}

// splitListValue cuts a list value on commas, semicolons, pipes or newlines,
// trimming whitespace and stray quotes from each entry.
func splitListValue(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '\n'
	})

	entries := make([]string, 0, len(fields))
	for _, field := range fields {
		entry := strings.Trim(strings.TrimSpace(field), `"'`)
		if entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

// expandEnvVars resolves ${VAR} and $VAR references in a value. ${BASE_DIR}
// resolves to the default root even before the variable is exported.
func expandEnvVars(value string) string {
	return os.Expand(value, func(name string) string {
		env := os.Getenv(name)
		if env == "" && name == "BASE_DIR" {
			return defaultBaseDir
		}
		return env
	})
}

// sizeUnits maps a trailing size suffix to its byte multiplier.
var sizeUnits = map[byte]int64{
	'k': 1 << 10, 'K': 1 << 10,
	'm': 1 << 20, 'M': 1 << 20,
	'g': 1 << 30, 'G': 1 << 30,
	't': 1 << 40, 'T': 1 << 40,
}

func parseSizeToBytes(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}

	multiplier := int64(1)
	if unit, ok := sizeUnits[text[len(text)-1]]; ok {
		multiplier = unit
		text = strings.TrimSpace(text[:len(text)-1])
	}
	if text == "" {
		return 0, fmt.Errorf("no number before the unit")
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("size cannot be negative")
	}
	size := int64(n * float64(multiplier))
	if size < 0 {
		size = 0
	}
	return size, nil
}

// adjustLevelForMode maps the friendly COMPRESSION_MODE names onto concrete
// levels for the selected compressor. Unknown modes leave the level alone.
func adjustLevelForMode(comp types.CompressionType, mode string, level int) int {
	if mode == "fast" {
		return 1
	}
	if mode != "maximum" && mode != "ultra" {
		return level
	}

	switch comp {
	case types.CompressionZstd:
		if mode == "ultra" {
			return 22
		}
		return 19
	case types.CompressionXZ, types.CompressionGzip, types.CompressionBzip2:
		return 9
	}
	return level
}

func sanitizeMinDisk(gb float64) float64 {
	if gb <= 0 {
		return 1.0
	}
	return gb
}

// Get returns a raw value from the configuration.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.raw[key]
	return v, ok
}

// Set stores a value in the configuration.
func (c *Config) Set(key, val string) {
	c.raw[key] = val
}

func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	vals := make(map[string]string)
	sc := bufio.NewScanner(f)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if utils.IsComment(line) {
			continue
		}
		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		switch {
		case blockValueKeys[key] && strings.TrimSpace(line) == key+`="`:
			block, terminated := readBlockValue(sc)
			if !terminated {
				return nil, fmt.Errorf("unterminated block value for %s", key)
			}
			vals[key] = block
		case multiValueKeys[key] && vals[key] != "":
			vals[key] += "\n" + value
		default:
			vals[key] = value
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return vals, nil
}

// readBlockValue consumes lines until the closing quote line. The second
// return is false when the input ends before the block is closed.
func readBlockValue(sc *bufio.Scanner) (string, bool) {
	var body []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == `"` {
			return strings.Join(body, "\n"), true
		}
		body = append(body, line)
	}
	return "", false
}
