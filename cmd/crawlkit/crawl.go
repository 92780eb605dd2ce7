package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/crawlkit/internal/config"
	"github.com/nao1215/crawlkit/internal/crawler"
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/report"
	"github.com/nao1215/crawlkit/internal/store"
)

var (
	// errSessionExists is returned when a new crawl reuses a stored session id.
	errSessionExists = errors.New("session already exists")

	// errSessionNotFound is returned when --resume names an unknown session.
	errSessionNotFound = errors.New("session not found")

	// errNoSessions is returned by crawl --all when the file defines none.
	errNoSessions = errors.New("no sessions defined in the configuration file")

	// errAllWithArgs is returned when crawl --all is given seed URLs.
	errAllWithArgs = errors.New("--all cannot be combined with seed URLs or --session")

	// errInvalidHeader is returned for a --header value without a colon.
	errInvalidHeader = errors.New(`invalid header: expected "Name: value"`)
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Run a crawl session",
		Long: `Crawl fetches the seed URLs and everything reachable from them that passes
the URL filter, stores the results under a session id and prints a report.

Supported schemes: http, https, file, smb and s3 (with objectStorage set in
the configuration file).

Examples:
  # Crawl a site, staying on its host, at most 3 links deep
  crawlkit crawl --same-host --max-depth 3 https://example.com/

  # Crawl a local directory into a named session
  crawlkit crawl --session archive file:///srv/archive/

  # Continue an interrupted session
  crawlkit crawl --session archive --resume

  # Run every session of the configuration file, two at a time
  crawlkit crawl --all --batch 2

  # Store results in PostgreSQL and expose Prometheus metrics
  crawlkit crawl --db-driver postgres --dsn "$DSN" --metrics-addr :9090 https://example.com/

Configuration file (.crawlkit) example:
  defaults:
    threads: 8
    robots: true
  sessions:
    docs:
      seeds:
        - https://example.com/docs/
      sameHost: true
      maxDepth: 5`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Session flags
	cmd.Flags().StringP("session", "s", "",
		"Session id; also selects the named session of the configuration file")
	cmd.Flags().Bool("resume", false,
		"Continue the stored frontier of --session")
	cmd.Flags().Bool("all", false,
		"Run every session defined in the configuration file")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of sessions run at once with --all")
	cmd.Flags().Bool("background", false,
		"Start the session in the background and wait for it")

	// Crawl behavior flags
	cmd.Flags().IntP("threads", "n", config.DefaultNumOfThreads,
		"Number of concurrent workers")
	cmd.Flags().Int64("max-access", 0,
		"Number of stored results after which the session ends (0 is unlimited)")
	cmd.Flags().IntP("max-depth", "d", config.DefaultMaxDepth,
		"Maximum link distance from a seed (negative is unlimited)")
	cmd.Flags().Int("max-thread-check", config.DefaultMaxThreadCheckCount,
		"Consecutive empty polls after which a worker exits")
	cmd.Flags().Duration("thread-check-interval", config.DefaultThreadCheckInterval,
		"Pause between empty polls")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Deadline of a single fetch")
	cmd.Flags().DurationP("interval", "i", 0,
		"Minimum delay between two fetches")
	cmd.Flags().Int64("max-content-length", config.DefaultMaxContentLength,
		"Maximum size of a fetched resource in bytes (0 is unlimited)")

	// URL filter flags
	cmd.Flags().StringArray("include", nil,
		"URL regular expression to crawl (repeatable)")
	cmd.Flags().StringArray("exclude", nil,
		"URL regular expression to skip (repeatable)")
	cmd.Flags().Bool("same-host", false,
		"Only crawl the hosts of the seed URLs")

	// HTTP flags
	cmd.Flags().Bool("robots", false,
		"Honour robots.txt and the robots meta tag")
	cmd.Flags().StringP("proxy", "x", "",
		"SOCKS5 proxy address for http(s) URLs (e.g., 127.0.0.1:9050)")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header")
	cmd.Flags().Bool("follow-redirects", false,
		"Follow redirects instead of queueing their targets")
	cmd.Flags().String("cookie", "",
		"Cookie sent with every http(s) request")
	cmd.Flags().StringArrayP("header", "H", nil,
		`Extra request header "Name: value" (repeatable)`)

	// Store flags
	addStoreFlags(cmd)

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address (e.g., :9090)")

	return cmd
}

// addStoreFlags registers the flags that select the store and the
// configuration file.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .crawlkit in current or home directory)")
	cmd.Flags().String("db-driver", config.DriverSQLite,
		"Result store: sqlite, postgres or memory")
	cmd.Flags().String("dsn", "",
		"PostgreSQL connection string")
	cmd.Flags().String("db-dir", "",
		"SQLite database directory (default: XDG data directory)")
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	slog.SetDefault(logger)

	base, file, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfgs, err := crawlConfigs(cmd, base, file, args)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cfgs[0], logger)
	if err != nil {
		return err
	}
	defer env.Close()
	env.serveMetrics(ctx, cfgs[0].MetricsAddr)

	out, closeOut, err := openOutput(cfgs[0].ReportFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}
	if all {
		return runBatch(ctx, cmd, env, cfgs, out)
	}
	return runSession(ctx, cmd, env, cfgs[0], out)
}

// loadConfig builds the process wide configuration: defaults, the backend
// sections of the configuration file and the store flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.File, error) {
	cfg := config.NewConfig()

	var err error
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use empty config if no file found.
	file := &config.File{Sessions: make(map[string]config.SessionConfig)}
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case cfg.ConfigFilePath != "":
		return nil, nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}
	cfg.ApplyFile(file)

	flags := cmd.Flags()
	if flags.Changed("db-driver") {
		if cfg.DBDriver, err = flags.GetString("db-driver"); err != nil {
			return nil, nil, err
		}
	}
	if flags.Changed("dsn") {
		if cfg.DSN, err = flags.GetString("dsn"); err != nil {
			return nil, nil, err
		}
	}
	if flags.Changed("db-dir") {
		if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
			return nil, nil, err
		}
	}
	return cfg, file, nil
}

// crawlConfigs returns one validated configuration per session to run.
func crawlConfigs(cmd *cobra.Command, base *config.Config, file *config.File, args []string) ([]*config.Config, error) {
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return nil, err
	}
	name, err := cmd.Flags().GetString("session")
	if err != nil {
		return nil, err
	}

	names := []string{name}
	if all {
		if len(args) > 0 || name != "" {
			return nil, errAllWithArgs
		}
		names = file.SessionNames()
		if len(names) == 0 {
			return nil, errNoSessions
		}
	}

	cfgs := make([]*config.Config, 0, len(names))
	for _, n := range names {
		cfg, err := sessionConfig(cmd, base, file, n, args)
		if err != nil {
			if n != "" {
				return nil, fmt.Errorf("session %s: %w", n, err)
			}
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

// sessionConfig merges the named session of the file over base, then the
// flags the user set, then the seed arguments.
func sessionConfig(cmd *cobra.Command, base *config.Config, file *config.File, name string, args []string) (*config.Config, error) {
	cfg := base.Clone()
	cfg.ApplySession(file.SessionConfig(name))
	cfg.SessionID = name

	if err := applyCrawlFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Seeds = args
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// applyCrawlFlags copies the flags the user set into cfg. Flags left at their
// default do not override the configuration file.
func applyCrawlFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	if flags.Changed("threads") {
		if cfg.NumOfThreads, err = flags.GetInt("threads"); err != nil {
			return err
		}
	}
	if flags.Changed("max-access") {
		if cfg.MaxAccessCount, err = flags.GetInt64("max-access"); err != nil {
			return err
		}
	}
	if flags.Changed("max-depth") {
		if cfg.MaxDepth, err = flags.GetInt("max-depth"); err != nil {
			return err
		}
	}
	if flags.Changed("max-thread-check") {
		if cfg.MaxThreadCheckCount, err = flags.GetInt("max-thread-check"); err != nil {
			return err
		}
	}
	if flags.Changed("thread-check-interval") {
		if cfg.ThreadCheckInterval, err = flags.GetDuration("thread-check-interval"); err != nil {
			return err
		}
	}
	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return err
		}
	}
	if flags.Changed("interval") {
		if cfg.Interval, err = flags.GetDuration("interval"); err != nil {
			return err
		}
	}
	if flags.Changed("max-content-length") {
		if cfg.MaxContentLength, err = flags.GetInt64("max-content-length"); err != nil {
			return err
		}
	}
	if flags.Changed("same-host") {
		if cfg.SameHost, err = flags.GetBool("same-host"); err != nil {
			return err
		}
	}
	if flags.Changed("robots") {
		if cfg.Robots, err = flags.GetBool("robots"); err != nil {
			return err
		}
	}
	if flags.Changed("proxy") {
		if cfg.Proxy, err = flags.GetString("proxy"); err != nil {
			return err
		}
	}
	if flags.Changed("user-agent") {
		if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
			return err
		}
	}
	if flags.Changed("follow-redirects") {
		if cfg.FollowRedirects, err = flags.GetBool("follow-redirects"); err != nil {
			return err
		}
	}
	if flags.Changed("cookie") {
		if cfg.Cookie, err = flags.GetString("cookie"); err != nil {
			return err
		}
	}

	include, err := flags.GetStringArray("include")
	if err != nil {
		return err
	}
	cfg.Include = append(cfg.Include, include...)
	exclude, err := flags.GetStringArray("exclude")
	if err != nil {
		return err
	}
	cfg.Exclude = append(cfg.Exclude, exclude...)

	headers, err := flags.GetStringArray("header")
	if err != nil {
		return err
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: %q", errInvalidHeader, h)
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	return applyRunFlags(cmd, cfg)
}

// applyRunFlags copies the flags that exist only on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	if cfg.Resume, err = flags.GetBool("resume"); err != nil {
		return err
	}
	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return err
	}
	if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return err
	}
	cfg.Verbose = getVerboseFlag(cmd)
	return nil
}

// runSession runs a single session and writes its report.
func runSession(ctx context.Context, cmd *cobra.Command, env *environment, cfg *config.Config, out io.Writer) error {
	s, err := env.newSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	background, err := cmd.Flags().GetBool("background")
	if err != nil {
		return err
	}
	s.crawler.SetBackground(background)

	status := cmd.ErrOrStderr()
	start := time.Now()
	id, err := s.crawler.Execute(ctx)
	if background && err == nil {
		fmt.Fprintf(status, "Session %s started in the background\n", id)
		err = s.crawler.AwaitTermination()
	}
	if err != nil {
		return fmt.Errorf("session %s failed: %w", id, err)
	}

	cs := s.crawler.Session()
	fmt.Fprintf(status, "Session %s %s in %s (%d results)\n\n",
		id, strings.ToLower(cs.Status.String()),
		time.Since(start).Round(time.Millisecond), cs.AccessCount)

	return writeReport(ctx, env.store, &cs, cfg, out)
}

// runBatch runs several sessions concurrently and writes a report for each
// as it terminates.
func runBatch(ctx context.Context, cmd *cobra.Command, env *environment, cfgs []*config.Config, out io.Writer) error {
	status := cmd.ErrOrStderr()

	sessions := make([]*session, 0, len(cfgs))
	defer func() {
		for _, s := range sessions {
			_ = s.Close() //nolint:errcheck // Best effort cleanup
		}
	}()
	crawlers := make([]*crawler.Crawler, 0, len(cfgs))
	for _, cfg := range cfgs {
		s, err := env.newSession(ctx, cfg)
		if err != nil {
			return fmt.Errorf("session %s: %w", cfg.SessionID, err)
		}
		sessions = append(sessions, s)
		crawlers = append(crawlers, s.crawler)
	}

	fmt.Fprintf(status, "Starting %d sessions (concurrency: %d)...\n\n", len(cfgs), cfgs[0].BatchSize)
	start := time.Now()

	b := crawler.NewBatch(
		crawler.WithConcurrency(cfgs[0].BatchSize),
		crawler.WithBatchLogger(env.logger),
	)

	var (
		mu     sync.Mutex
		failed []string
	)
	err := b.RunWithCallback(ctx, crawlers, func(r crawler.BatchResult, index int) {
		mu.Lock()
		defer mu.Unlock()

		if r.Err != nil {
			failed = append(failed, r.SessionID)
			fmt.Fprintf(status, "[%d/%d] Session %s failed: %v\n", index+1, len(cfgs), r.SessionID, r.Err)
			return
		}
		fmt.Fprintf(status, "[%d/%d] Session %s %s (%d results)\n",
			index+1, len(cfgs), r.SessionID, strings.ToLower(r.Status.String()), r.Session.AccessCount)

		if err := writeReport(ctx, env.store, &r.Session, cfgs[index], out); err != nil {
			env.logger.Error("report failed", "session", r.SessionID, "error", err)
		}
	})

	fmt.Fprintf(status, "\nBatch completed in %s\n", time.Since(start).Round(time.Millisecond))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d sessions failed: %s", len(failed), len(cfgs), strings.Join(failed, ", "))
	}
	return nil
}

// openOutput returns the report destination: the file at path, or stdout
// when path is empty.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports list crawled URLs and may reveal internal hosts.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // User-provided output path is intentional
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// newReportWriter returns the writer for the report format selected by cfg.
func newReportWriter(cfg *config.Config, out io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(out, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(out)
	default:
		return report.NewSimpleWriter(out, report.WithVerbose(cfg.Verbose))
	}
}

// writeReport summarizes the results of session and writes the report.
// It runs after a signal too, so it does not inherit ctx's cancellation.
func writeReport(ctx context.Context, results store.ResultStore, session *model.CrawlSession, cfg *config.Config, out io.Writer) error {
	summary, err := report.Summarize(context.WithoutCancel(ctx), results, session)
	if err != nil {
		return fmt.Errorf("failed to summarize session %s: %w", session.SessionID, err)
	}
	if _, err := newReportWriter(cfg, out).Write(summary); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
