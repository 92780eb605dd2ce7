package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoSeed is returned when a crawl has neither seed URLs nor a session
	// to resume.
	ErrNoSeed = errors.New("no seed url specified: provide at least one url or use --resume")

	// ErrInvalidNumOfThreads is returned when the worker count is not positive.
	ErrInvalidNumOfThreads = errors.New("invalid number of threads: must be positive")

	// ErrInvalidMaxAccessCount is returned for a negative access limit.
	// Zero means unlimited.
	ErrInvalidMaxAccessCount = errors.New("invalid max access count: must be non-negative")

	// ErrInvalidMaxThreadCheckCount is returned when the idle poll limit is
	// not positive.
	ErrInvalidMaxThreadCheckCount = errors.New("invalid max thread check count: must be positive")

	// ErrInvalidThreadCheckInterval is returned for a negative idle pause.
	ErrInvalidThreadCheckInterval = errors.New("invalid thread check interval: must be non-negative")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidInterval is returned for a negative politeness interval.
	ErrInvalidInterval = errors.New("invalid interval: must be non-negative")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidMaxContentLength is returned for a negative content limit.
	// Zero means unlimited.
	ErrInvalidMaxContentLength = errors.New("invalid max content length: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrUnknownDBDriver is returned for a store driver other than sqlite,
	// postgres or memory.
	ErrUnknownDBDriver = errors.New("unknown database driver: must be sqlite, postgres or memory")

	// ErrMissingDSN is returned when the postgres driver has no DSN.
	ErrMissingDSN = errors.New("postgres driver requires a dsn")

	// ErrResumeWithoutSession is returned when --resume is given without a
	// session id.
	ErrResumeWithoutSession = errors.New("resume requires a session id")

	// ErrResumeInMemory is returned when --resume is combined with the memory
	// store, which keeps nothing between runs.
	ErrResumeInMemory = errors.New("resume requires a persistent store")
)
