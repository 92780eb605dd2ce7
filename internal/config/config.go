package config

import (
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "crawlkit"

	// DefaultNumOfThreads is the worker count of a session.
	DefaultNumOfThreads = 10

	// DefaultMaxThreadCheckCount is how many consecutive empty polls a worker
	// tolerates before it decides the frontier is drained.
	DefaultMaxThreadCheckCount = 20

	// DefaultThreadCheckInterval is the pause between empty polls.
	DefaultThreadCheckInterval = 500 * time.Millisecond

	// DefaultTimeout bounds a single fetch.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxDepth disables the depth limit.
	DefaultMaxDepth = -1

	// DefaultBatchSize is the number of sessions run at once by crawl --all.
	DefaultBatchSize = 4

	// DefaultUserAgent identifies crawlkit in HTTP requests and robots.txt.
	DefaultUserAgent = "crawlkit/1.0 (+https://github.com/nao1215/crawlkit)"

	// DefaultMaxContentLength limits the size of a fetched resource.
	DefaultMaxContentLength = 10 * 1024 * 1024 // 10MB

	// Store drivers.
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds every option of a crawl run. It is populated from the
// configuration file and command line flags and passed down explicitly.
type Config struct {
	// SessionID names the session. Empty means a generated id.
	SessionID string

	// Seeds are the start URLs.
	Seeds []string

	// Include and Exclude are URL regular expressions. A URL must match the
	// whole of an include pattern (when any exist) and no exclude pattern.
	Include []string
	Exclude []string

	// SameHost restricts the crawl to the hosts of the seeds.
	SameHost bool

	// NumOfThreads is the worker count.
	NumOfThreads int

	// MaxAccessCount bounds the number of stored results. Zero is unlimited.
	MaxAccessCount int64

	// MaxDepth bounds the link distance from a seed. Negative is unlimited.
	MaxDepth int

	// MaxThreadCheckCount is how many consecutive empty polls end a worker.
	MaxThreadCheckCount int

	// ThreadCheckInterval is the pause between empty polls.
	ThreadCheckInterval time.Duration

	// Timeout is the watchdog deadline of a single fetch.
	Timeout time.Duration

	// Interval is the minimum delay between two fetches of a session.
	Interval time.Duration

	// UserAgent is sent with HTTP requests.
	UserAgent string

	// Proxy is a SOCKS5 proxy address in "host:port" form, used by the HTTP
	// client. Empty means a direct connection.
	Proxy string

	// Robots enables robots.txt enforcement.
	Robots bool

	// FollowRedirects makes the HTTP client follow redirects itself instead
	// of enqueueing the target.
	FollowRedirects bool

	// Cookie and Headers are added to every HTTP request.
	Cookie  string
	Headers map[string]string

	// MaxContentLength is the default content limit in bytes. Zero is
	// unlimited.
	MaxContentLength int64

	// DBDriver selects the store: sqlite, postgres or memory.
	DBDriver string

	// DSN is the PostgreSQL connection string.
	DSN string

	// DBDir is the SQLite database directory.
	// Defaults to the XDG data directory (~/.local/share/crawlkit on Linux).
	DBDir string

	// Resume continues the session named by SessionID from its stored
	// frontier.
	Resume bool

	// BatchSize is the number of sessions crawl --all runs at once.
	BatchSize int

	// JSONReport and MarkdownReport select the report format; both false
	// means the plain text report. They are mutually exclusive.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile is the report output path. Empty means stdout.
	ReportFile string

	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddr string

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the configuration file. Empty means the file is
	// searched for with FindConfigFile.
	ConfigFilePath string

	// ObjectStorage and SMB hold the backend settings of the s3 and smb
	// clients.
	ObjectStorage ObjectStorageConfig
	SMB           SMBConfig
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		NumOfThreads:        DefaultNumOfThreads,
		MaxDepth:            DefaultMaxDepth,
		MaxThreadCheckCount: DefaultMaxThreadCheckCount,
		ThreadCheckInterval: DefaultThreadCheckInterval,
		Timeout:             DefaultTimeout,
		UserAgent:           DefaultUserAgent,
		MaxContentLength:    DefaultMaxContentLength,
		DBDriver:            DriverSQLite,
		DBDir:               XDGDataDir(),
		BatchSize:           DefaultBatchSize,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Seeds = slices.Clone(c.Seeds)
	cp.Include = slices.Clone(c.Include)
	cp.Exclude = slices.Clone(c.Exclude)
	cp.Headers = maps.Clone(c.Headers)
	return &cp
}

// XDGDataDir returns the XDG data directory for crawlkit.
// On Linux: ~/.local/share/crawlkit
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for crawlkit.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for crawlkit. Large response
// bodies are spooled below it.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate returns the first problem found in c.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 && !c.Resume {
		return ErrNoSeed
	}
	if c.NumOfThreads <= 0 {
		return ErrInvalidNumOfThreads
	}
	if c.MaxAccessCount < 0 {
		return ErrInvalidMaxAccessCount
	}
	if c.MaxThreadCheckCount <= 0 {
		return ErrInvalidMaxThreadCheckCount
	}
	if c.ThreadCheckInterval < 0 {
		return ErrInvalidThreadCheckInterval
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Interval < 0 {
		return ErrInvalidInterval
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.MaxContentLength < 0 {
		return ErrInvalidMaxContentLength
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.Resume && c.SessionID == "" {
		return ErrResumeWithoutSession
	}
	return nil
}

// ValidateStore checks the store settings only.
func (c *Config) ValidateStore() error {
	switch c.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DSN == "" {
			return ErrMissingDSN
		}
	case DriverMemory:
		if c.Resume {
			return ErrResumeInMemory
		}
	default:
		return ErrUnknownDBDriver
	}
	return nil
}
