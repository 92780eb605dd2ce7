package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/crawlkit/internal/config"
	"github.com/nao1215/crawlkit/internal/crawler"
	"github.com/nao1215/crawlkit/internal/frontier"
	"github.com/nao1215/crawlkit/internal/metrics"
	"github.com/nao1215/crawlkit/internal/protocol"
	"github.com/nao1215/crawlkit/internal/rule"
	"github.com/nao1215/crawlkit/internal/store"
	"github.com/nao1215/crawlkit/internal/urlfilter"
)

// metricsShutdownTimeout bounds the graceful shutdown of the metrics server.
const metricsShutdownTimeout = 5 * time.Second

// openStore opens the result store selected by cfg.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return store.OpenPostgres(ctx, cfg.DSN)
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverSQLite:
		return store.OpenSQLite(cfg.DBDir, store.DefaultOptions())
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownDBDriver, cfg.DBDriver)
	}
}

// environment holds what the sessions of one process share: the store, the
// frontier, the rules and the metrics.
type environment struct {
	store    store.Store
	frontier *frontier.Frontier
	rules    *rule.Manager
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// newEnvironment opens the store and builds the shared components.
func newEnvironment(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*environment, error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	env := &environment{
		store: s,
		frontier: frontier.New(s,
			frontier.WithLogger(logger),
			frontier.WithMetrics(m),
		),
		rules:    rule.NewDefaultManager(),
		registry: reg,
		metrics:  m,
		logger:   logger,
	}
	logger.Debug("store opened", "driver", cfg.DBDriver, "dir", cfg.DBDir)
	return env, nil
}

// Close closes the store.
func (e *environment) Close() error {
	return e.store.Close()
}

// newClients builds the protocol clients of one session.
func newClients(cfg *config.Config, logger *slog.Logger) (*protocol.Registry, error) {
	spoolDir := config.XDGCacheDir()
	if err := os.MkdirAll(spoolDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	limits := protocol.ContentLimits{Default: cfg.MaxContentLength}

	httpOpts := []protocol.HTTPOption{
		protocol.WithUserAgent(cfg.UserAgent),
		protocol.WithFollowRedirects(cfg.FollowRedirects),
		protocol.WithRobots(cfg.Robots),
		protocol.WithContentLimits(limits),
		protocol.WithSpoolDir(spoolDir),
		protocol.WithRequestTimeout(cfg.Timeout),
		protocol.WithHTTPLogger(logger),
	}
	if cfg.Proxy != "" {
		httpOpts = append(httpOpts, protocol.WithProxy(cfg.Proxy))
	}
	if cfg.Cookie != "" {
		httpOpts = append(httpOpts, protocol.WithCookie(cfg.Cookie))
	}
	if len(cfg.Headers) > 0 {
		httpOpts = append(httpOpts, protocol.WithHeaders(cfg.Headers))
	}

	clients := []protocol.Client{
		protocol.NewHTTPClient(httpOpts...),
		protocol.NewFileClient(limits),
		protocol.NewSMBClient(protocol.SMBConfig{
			User:     cfg.SMB.User,
			Password: cfg.SMB.Password,
			Domain:   cfg.SMB.Domain,
			Limits:   limits,
			SpoolDir: spoolDir,
		}),
	}
	if cfg.ObjectStorage.Endpoint != "" {
		clients = append(clients, protocol.NewObjectStorageClient(protocol.StorageConfig{
			Endpoint:  cfg.ObjectStorage.Endpoint,
			AccessKey: cfg.ObjectStorage.AccessKey,
			SecretKey: cfg.ObjectStorage.SecretKey,
			UseSSL:    cfg.ObjectStorage.UseSSL,
			Region:    cfg.ObjectStorage.Region,
			Scheme:    cfg.ObjectStorage.Scheme,
			Limits:    limits,
			SpoolDir:  spoolDir,
		}))
	}
	return protocol.NewRegistry(clients...), nil
}

// newFilter builds the URL filter of one session.
func newFilter(cfg *config.Config, s store.PatternStore, logger *slog.Logger) urlfilter.Filter {
	base := urlfilter.New(s, urlfilter.WithLogger(logger))
	var f urlfilter.Filter = base
	if cfg.SameHost {
		f = urlfilter.NewHostFilter(base)
	}
	for _, p := range cfg.Include {
		f.AddInclude(p)
	}
	for _, p := range cfg.Exclude {
		f.AddExclude(p)
	}
	return f
}

// session is a configured crawler plus the resources it owns.
type session struct {
	cfg     *config.Config
	crawler *crawler.Crawler
	clients *protocol.Registry
}

// Close releases the protocol clients of the session.
func (s *session) Close() error {
	return s.clients.Close()
}

// newSession builds a crawler for cfg on top of the shared environment.
func (e *environment) newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	logger := e.logger
	if cfg.SessionID != "" {
		logger = logger.With("session", cfg.SessionID)
	}

	if err := e.checkSession(ctx, cfg); err != nil {
		return nil, err
	}

	clients, err := newClients(cfg, logger)
	if err != nil {
		return nil, err
	}

	c, err := crawler.New(crawler.Dependencies{
		Frontier: e.frontier,
		Filter:   newFilter(cfg, e.store, logger),
		Rules:    e.rules,
		Clients:  clients,
		Results:  e.store,
		Sessions: e.store,
	}, crawler.WithLogger(logger), crawler.WithMetrics(e.metrics))
	if err != nil {
		_ = clients.Close() //nolint:errcheck // Best effort cleanup
		return nil, err
	}

	c.SetSessionID(cfg.SessionID)
	for _, seed := range cfg.Seeds {
		c.AddURL(seed)
	}
	c.SetNumOfThreads(cfg.NumOfThreads)
	c.SetMaxAccessCount(cfg.MaxAccessCount)
	c.SetMaxDepth(cfg.MaxDepth)
	c.SetMaxThreadCheckCount(cfg.MaxThreadCheckCount)
	c.SetThreadCheckInterval(cfg.ThreadCheckInterval)
	c.SetInterval(cfg.Interval)
	c.SetFetchTimeout(cfg.Timeout)

	return &session{cfg: cfg, crawler: c, clients: clients}, nil
}

// checkSession refuses to reuse a stored session id unless the session is
// resumed, and to resume a session that does not exist.
func (e *environment) checkSession(ctx context.Context, cfg *config.Config) error {
	if cfg.SessionID == "" {
		return nil
	}
	_, err := e.store.GetSession(ctx, cfg.SessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if cfg.Resume {
			return fmt.Errorf("%w: %s", errSessionNotFound, cfg.SessionID)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up session %s: %w", cfg.SessionID, err)
	case !cfg.Resume:
		return fmt.Errorf("%w: %s (use --resume to continue it or \"crawlkit sessions delete %s\")",
			errSessionExists, cfg.SessionID, cfg.SessionID)
	}
	return nil
}

// serveMetrics exposes the environment's collectors on addr until ctx is
// done. It returns immediately when addr is empty.
func (e *environment) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		e.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}()
}
