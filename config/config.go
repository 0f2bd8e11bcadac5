package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultOriginalsFolderName = "originals"
	DefaultProcessedMarker     = "processed"
	DefaultSoftwareName        = "Photoner"
	DefaultProfile             = "balanced"
	DefaultRawDecoder          = "dcraw"
	DefaultOutputExtension     = ".jpg"
)

const (
	defaultJPEGQuality            = 92
	defaultMaxBatchSize           = 500
	defaultMaxConsecutiveFailures = 5
	defaultMaxRetries             = 1
	defaultRetryDelaySeconds      = 5
	defaultMinFreeSpaceGB         = 10.0
	defaultWorkers                = 1
)

// QueuePriority selects the ordering applied to discovered files.
type QueuePriority string

const (
	PriorityOldestFirst  QueuePriority = "oldest_first"
	PriorityNewestFirst  QueuePriority = "newest_first"
	PriorityLargestFirst QueuePriority = "largest_first"
)

// Mode selects which source roots a batch scans.
type Mode string

const (
	ModeIncoming Mode = "incoming"
	ModeArchive  Mode = "archive"
	ModeTest     Mode = "test"
)

type Paths struct {
	Incoming string // newly shot work, processed newest-first
	Archive  string // backlog, processed oldest-first
	Enhanced string // mirrored output tree
	Backup   string // optional, empty disables backups regardless of the flag
	Temp     string // staging for in-place replacement and stale temp sweep
	Logs     string // log files, reports and manifests
	Database string // sqlite audit store
}

// FileTypeGroup is a named set of extensions that can be switched off as a unit.
type FileTypeGroup struct {
	Enabled    bool
	Extensions []string
}

type FileTypes struct {
	Standard FileTypeGroup
	Raw      FileTypeGroup
}

type Processing struct {
	ReplaceWithEnhanced    bool
	SkipExisting           bool
	CheckTimestamp         bool
	CreateBackups          bool
	MoveProcessedOriginals bool
	OriginalsFolderName    string
	JPEGQuality            int
	MaxBatchSize           int // 0 means unlimited
	Recursive              bool
	Workers                int
	BatchTimeout           time.Duration // 0 means unbounded
}

type ErrorHandling struct {
	MaxConsecutiveFailures int
	RetryEnabled           bool
	MaxRetries             int
	RetryDelay             time.Duration
}

type Advanced struct {
	MinFreeSpaceGB         float64
	CheckSpaceBeforeBatch  bool
	PreserveAllEXIF        bool
	AddProcessingTag       bool
	ProcessingSoftwareName string
	RawDecoderPath         string
}

// Server configures the read-only audit HTTP surface.
type Server struct {
	Port           string
	AllowedOrigins []string
}

type Logging struct {
	Level  string
	Format string // "console" or "json"
}

// Config is the validated option set handed to every component constructor.
type Config struct {
	Paths         Paths
	FileTypes     FileTypes
	Processing    Processing
	ErrorHandling ErrorHandling
	Advanced      Advanced
	Logging       Logging
	Server        Server

	// enhancement
	ProfileName  string
	ProfilesFile string
	Enhancement  EnhancementParams
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %g. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

// getEnvStringsOrDefault reads a comma separated list of trimmed values
func getEnvStringsOrDefault(envVar string, defaultVal []string) []string {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvListOrDefault reads a comma separated list, lowercased and trimmed
func getEnvListOrDefault(envVar string, defaultVal []string) []string {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}

func absOrEmpty(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return filepath.Abs(p)
}

// LoadConfig builds the configuration from the environment. Call godotenv.Load
// first if a .env file should be honoured.
func LoadConfig() (Config, error) {
	paths := Paths{
		Incoming: getEnvOrDefault("INCOMING_PATH", ""),
		Archive:  getEnvOrDefault("ARCHIVE_PATH", ""),
		Enhanced: getEnvOrDefault("ENHANCED_PATH", filepath.Join(".", "enhanced")),
		Backup:   getEnvOrDefault("BACKUP_PATH", ""),
		Temp:     getEnvOrDefault("TEMP_PATH", filepath.Join(".", "temp")),
		Logs:     getEnvOrDefault("LOGS_PATH", filepath.Join(".", "logs")),
	}
	for _, p := range []*string{&paths.Incoming, &paths.Archive, &paths.Enhanced, &paths.Backup, &paths.Temp, &paths.Logs} {
		abs, err := absOrEmpty(*p)
		if err != nil {
			return Config{}, fmt.Errorf("failed to get absolute path for '%s': %w", *p, err)
		}
		*p = abs
	}
	paths.Database = getEnvOrDefault("DATABASE_PATH", filepath.Join(paths.Logs, "database", "processing_records.db"))

	cfg := Config{
		Paths: paths,
		FileTypes: FileTypes{
			Standard: FileTypeGroup{
				Enabled:    getEnvBoolOrDefault("STANDARD_ENABLED", true),
				Extensions: getEnvListOrDefault("STANDARD_EXTENSIONS", []string{".jpg", ".jpeg", ".tif", ".tiff"}),
			},
			Raw: FileTypeGroup{
				Enabled:    getEnvBoolOrDefault("RAW_ENABLED", true),
				Extensions: getEnvListOrDefault("RAW_EXTENSIONS", []string{".cr2", ".cr3", ".nef", ".arw", ".dng", ".orf", ".rw2", ".raf"}),
			},
		},
		Processing: Processing{
			ReplaceWithEnhanced:    getEnvBoolOrDefault("REPLACE_WITH_ENHANCED", false),
			SkipExisting:           getEnvBoolOrDefault("SKIP_EXISTING", true),
			CheckTimestamp:         getEnvBoolOrDefault("CHECK_TIMESTAMP", true),
			CreateBackups:          getEnvBoolOrDefault("CREATE_BACKUPS", false),
			MoveProcessedOriginals: getEnvBoolOrDefault("MOVE_PROCESSED_ORIGINALS", false),
			OriginalsFolderName:    getEnvOrDefault("ORIGINALS_FOLDER_NAME", DefaultOriginalsFolderName),
			JPEGQuality:            getEnvIntOrDefault("JPEG_QUALITY", defaultJPEGQuality),
			MaxBatchSize:           getEnvIntOrDefault("MAX_BATCH_SIZE", defaultMaxBatchSize),
			Recursive:              getEnvBoolOrDefault("RECURSIVE_SCAN", true),
			Workers:                getEnvIntOrDefault("WORKERS", defaultWorkers),
			BatchTimeout:           time.Duration(getEnvIntOrDefault("BATCH_TIMEOUT_MINUTES", 0)) * time.Minute,
		},
		ErrorHandling: ErrorHandling{
			MaxConsecutiveFailures: getEnvIntOrDefault("MAX_CONSECUTIVE_FAILURES", defaultMaxConsecutiveFailures),
			RetryEnabled:           getEnvBoolOrDefault("RETRY_FAILED_IMAGES", false),
			MaxRetries:             getEnvIntOrDefault("MAX_RETRIES", defaultMaxRetries),
			RetryDelay:             time.Duration(getEnvIntOrDefault("RETRY_DELAY_SECONDS", defaultRetryDelaySeconds)) * time.Second,
		},
		Advanced: Advanced{
			MinFreeSpaceGB:         getEnvFloatOrDefault("MIN_FREE_SPACE_GB", defaultMinFreeSpaceGB),
			CheckSpaceBeforeBatch:  getEnvBoolOrDefault("CHECK_SPACE_BEFORE_BATCH", true),
			PreserveAllEXIF:        getEnvBoolOrDefault("PRESERVE_ALL_EXIF", true),
			AddProcessingTag:       getEnvBoolOrDefault("ADD_PROCESSING_TAG", true),
			ProcessingSoftwareName: getEnvOrDefault("PROCESSING_SOFTWARE_NAME", DefaultSoftwareName),
			RawDecoderPath:         getEnvOrDefault("RAW_DECODER_PATH", DefaultRawDecoder),
		},
		Logging: Logging{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "console"),
		},
		Server: Server{
			Port:           getEnvOrDefault("PORT", "8080"),
			AllowedOrigins: getEnvStringsOrDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		ProfileName:  getEnvOrDefault("ENHANCEMENT_PROFILE", DefaultProfile),
		ProfilesFile: getEnvOrDefault("PROFILES_FILE", ""),
	}

	if err := cfg.ApplyProfile(cfg.ProfileName); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyProfile resolves the named profile against the defaults, then lets the
// ENHANCE_* environment overrides patch the result.
func (c *Config) ApplyProfile(name string) error {
	profiles := BuiltinProfiles()
	if c.ProfilesFile != "" {
		fileProfiles, err := LoadProfilesFile(c.ProfilesFile)
		if err != nil {
			return err
		}
		for k, v := range fileProfiles {
			profiles[k] = v
		}
	}
	overrides, ok := profiles[name]
	if !ok {
		return fmt.Errorf("unknown enhancement profile %q", name)
	}
	c.ProfileName = name
	c.Enhancement = DefaultEnhancementParams().Merge(overrides).Merge(envOverrides())
	return nil
}

// Validate checks ranges that the rest of the system relies on.
func (c Config) Validate() error {
	if c.Paths.Enhanced == "" && !c.Processing.ReplaceWithEnhanced {
		return fmt.Errorf("config: enhanced path is required unless replacing originals in place")
	}
	if c.Paths.Temp == "" {
		return fmt.Errorf("config: temp path is required")
	}
	if c.Processing.JPEGQuality < 1 || c.Processing.JPEGQuality > 100 {
		return fmt.Errorf("config: jpeg quality %d outside 1-100", c.Processing.JPEGQuality)
	}
	if c.Processing.OriginalsFolderName == "" || strings.ContainsRune(c.Processing.OriginalsFolderName, filepath.Separator) {
		return fmt.Errorf("config: invalid originals folder name %q", c.Processing.OriginalsFolderName)
	}
	if c.Processing.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1")
	}
	if c.ErrorHandling.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("config: max consecutive failures must be at least 1")
	}
	if c.Advanced.MinFreeSpaceGB < 0 {
		return fmt.Errorf("config: minimum free space cannot be negative")
	}
	return c.Enhancement.Validate()
}

// SupportedExtensions returns the lowercased extensions of every enabled group.
func (c Config) SupportedExtensions() map[string]bool {
	exts := make(map[string]bool)
	for _, g := range []FileTypeGroup{c.FileTypes.Standard, c.FileTypes.Raw} {
		if !g.Enabled {
			continue
		}
		for _, e := range g.Extensions {
			exts[strings.ToLower(e)] = true
		}
	}
	return exts
}

// IsRawExtension reports whether ext belongs to the RAW group, enabled or not.
func (c Config) IsRawExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range c.FileTypes.Raw.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// MarkerSegments are path components that mean "already filed away".
func (c Config) MarkerSegments() []string {
	return []string{c.Processing.OriginalsFolderName, DefaultProcessedMarker}
}

// SourceRoots resolves the roots scanned for a given mode.
func (c Config) SourceRoots(mode Mode, override string) ([]string, error) {
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve input override '%s': %w", override, err)
		}
		return []string{abs}, nil
	}
	switch mode {
	case ModeIncoming:
		return []string{c.Paths.Incoming}, nil
	case ModeArchive:
		return []string{c.Paths.Archive}, nil
	case ModeTest:
		var roots []string
		for _, p := range []string{c.Paths.Incoming, c.Paths.Archive} {
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err == nil {
				roots = append(roots, p)
			}
		}
		return roots, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

// PriorityFor maps a mode to its default queue ordering.
func PriorityFor(mode Mode) QueuePriority {
	if mode == ModeIncoming {
		return PriorityNewestFirst
	}
	return PriorityOldestFirst
}

// EnsureDirectories creates the directories the batch writes into.
func (c Config) EnsureDirectories() error {
	dirs := []string{c.Paths.Temp, c.Paths.Logs, filepath.Dir(c.Paths.Database)}
	if !c.Processing.ReplaceWithEnhanced {
		dirs = append(dirs, c.Paths.Enhanced)
	}
	if c.Paths.Backup != "" && c.Processing.CreateBackups {
		dirs = append(dirs, c.Paths.Backup)
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}
