package config

import (
	"maps"
	"slices"
	"time"
)

// SessionConfig describes a named crawl in the configuration file. Zero
// values mean "not set" and leave the defaults in place.
type SessionConfig struct {
	// Seeds are the start URLs of the session.
	Seeds []string `yaml:"seeds,omitempty"`

	// Include and Exclude are URL regular expressions.
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`

	// SameHost restricts the crawl to the hosts of the seeds.
	SameHost bool `yaml:"sameHost,omitempty"`

	// MaxDepth bounds the link distance from a seed. A pointer so that 0
	// (seeds only) can be told apart from "not set".
	MaxDepth *int `yaml:"maxDepth,omitempty"`

	// MaxAccessCount bounds the number of stored results.
	MaxAccessCount int64 `yaml:"maxAccessCount,omitempty"`

	// Threads is the worker count.
	Threads int `yaml:"threads,omitempty"`

	// Interval is the minimum delay between fetches, e.g. "500ms".
	Interval time.Duration `yaml:"interval,omitempty"`

	// Timeout bounds a single fetch, e.g. "30s".
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Robots enables robots.txt enforcement.
	Robots bool `yaml:"robots,omitempty"`

	// UserAgent overrides the User-Agent header.
	UserAgent string `yaml:"userAgent,omitempty"`

	// Cookie is an HTTP cookie, "name=value" or "a=1; b=2".
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra HTTP request headers.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// StorageConfig selects the result store.
type StorageConfig struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
	Dir    string `yaml:"dir,omitempty"`
}

// ObjectStorageConfig configures the S3 compatible object storage client.
type ObjectStorageConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"accessKey,omitempty"`
	SecretKey string `yaml:"secretKey,omitempty"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"useSSL,omitempty"`

	// Scheme is the URL scheme the client serves. Defaults to "s3".
	Scheme string `yaml:"scheme,omitempty"`
}

// SMBConfig holds the credentials of the SMB client. Credentials embedded in
// an smb:// URL take precedence.
type SMBConfig struct {
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Domain   string `yaml:"domain,omitempty"`
}

// File represents the structure of the .crawlkit configuration file.
type File struct {
	// Defaults apply to every session unless the session overrides them.
	Defaults SessionConfig `yaml:"defaults,omitempty"`

	// Sessions maps session names to their configuration. The name doubles
	// as the session id.
	Sessions map[string]SessionConfig `yaml:"sessions,omitempty"`

	Storage       StorageConfig       `yaml:"storage,omitempty"`
	ObjectStorage ObjectStorageConfig `yaml:"objectStorage,omitempty"`
	SMB           SMBConfig           `yaml:"smb,omitempty"`
}

// SessionNames returns the configured session names in sorted order.
func (cf *File) SessionNames() []string {
	return slices.Sorted(maps.Keys(cf.Sessions))
}

// SessionConfig returns the configuration of the named session merged over
// the defaults. An unknown name yields the defaults.
func (cf *File) SessionConfig(name string) SessionConfig {
	result := cf.Defaults
	result.Headers = maps.Clone(cf.Defaults.Headers)

	sc, ok := cf.Sessions[name]
	if !ok {
		return result
	}
	if len(sc.Seeds) > 0 {
		result.Seeds = sc.Seeds
	}
	if len(sc.Include) > 0 {
		result.Include = sc.Include
	}
	if len(sc.Exclude) > 0 {
		result.Exclude = sc.Exclude
	}
	if sc.SameHost {
		result.SameHost = true
	}
	if sc.MaxDepth != nil {
		result.MaxDepth = sc.MaxDepth
	}
	if sc.MaxAccessCount != 0 {
		result.MaxAccessCount = sc.MaxAccessCount
	}
	if sc.Threads != 0 {
		result.Threads = sc.Threads
	}
	if sc.Interval != 0 {
		result.Interval = sc.Interval
	}
	if sc.Timeout != 0 {
		result.Timeout = sc.Timeout
	}
	if sc.Robots {
		result.Robots = true
	}
	if sc.UserAgent != "" {
		result.UserAgent = sc.UserAgent
	}
	if sc.Cookie != "" {
		result.Cookie = sc.Cookie
	}
	if len(sc.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(sc.Headers))
		}
		maps.Copy(result.Headers, sc.Headers)
	}
	return result
}

// ApplyFile copies the backend sections of cf into c.
func (c *Config) ApplyFile(cf *File) {
	if cf == nil {
		return
	}
	if cf.Storage.Driver != "" {
		c.DBDriver = cf.Storage.Driver
	}
	if cf.Storage.DSN != "" {
		c.DSN = cf.Storage.DSN
	}
	if cf.Storage.Dir != "" {
		c.DBDir = cf.Storage.Dir
	}
	c.ObjectStorage = cf.ObjectStorage
	c.SMB = cf.SMB
}

// ApplySession copies the set fields of sc into c.
func (c *Config) ApplySession(sc SessionConfig) {
	if len(sc.Seeds) > 0 {
		c.Seeds = slices.Clone(sc.Seeds)
	}
	c.Include = append(c.Include, sc.Include...)
	c.Exclude = append(c.Exclude, sc.Exclude...)
	if sc.SameHost {
		c.SameHost = true
	}
	if sc.MaxDepth != nil {
		c.MaxDepth = *sc.MaxDepth
	}
	if sc.MaxAccessCount != 0 {
		c.MaxAccessCount = sc.MaxAccessCount
	}
	if sc.Threads != 0 {
		c.NumOfThreads = sc.Threads
	}
	if sc.Interval != 0 {
		c.Interval = sc.Interval
	}
	if sc.Timeout != 0 {
		c.Timeout = sc.Timeout
	}
	if sc.Robots {
		c.Robots = true
	}
	if sc.UserAgent != "" {
		c.UserAgent = sc.UserAgent
	}
	if sc.Cookie != "" {
		c.Cookie = sc.Cookie
	}
	if len(sc.Headers) > 0 {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(sc.Headers))
		}
		maps.Copy(c.Headers, sc.Headers)
	}
}
