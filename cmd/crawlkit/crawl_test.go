package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/crawlkit/internal/config"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of workers
// and status output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newSite serves a root page linking to /a and /b, and /a linking to /c.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	page := func(links ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			var sb strings.Builder
			sb.WriteString("<html><body>")
			for _, l := range links {
				fmt.Fprintf(&sb, `<a href="%s">%s</a>`, l, l)
			}
			sb.WriteString("</body></html>")
			_, _ = w.Write([]byte(sb.String()))
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", page("/a", "/b"))
	mux.HandleFunc("/a", page("/c"))
	mux.HandleFunc("/b", page())
	mux.HandleFunc("/c", page())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a configuration file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crawlkit.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr syncBuffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// parseCrawlFlags returns a crawl command with args parsed.
func parseCrawlFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := NewCrawlCmd()
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v): %v", args, err)
	}
	return cmd
}

// fastArgs keep workers from idling long once the frontier drains.
var fastArgs = []string{"--max-thread-check", "3", "--thread-check-interval", "5ms", "--threads", "2"}

func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()
	flags := []struct {
		name      string
		shorthand string
	}{
		{"session", "s"},
		{"resume", ""},
		{"all", ""},
		{"batch", "b"},
		{"background", ""},
		{"threads", "n"},
		{"max-access", ""},
		{"max-depth", "d"},
		{"max-thread-check", ""},
		{"timeout", "t"},
		{"interval", "i"},
		{"include", ""},
		{"exclude", ""},
		{"same-host", ""},
		{"robots", ""},
		{"proxy", "x"},
		{"header", "H"},
		{"config", "c"},
		{"db-driver", ""},
		{"dsn", ""},
		{"db-dir", ""},
		{"json", "j"},
		{"markdown", "m"},
		{"output", "o"},
		{"metrics-addr", ""},
	}
	for _, f := range flags {
		t.Run(f.name, func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(f.name)
			if flag == nil {
				t.Fatalf("expected %s flag", f.name)
			}
			if flag.Shorthand != f.shorthand {
				t.Errorf("expected shorthand %q, got %q", f.shorthand, flag.Shorthand)
			}
		})
	}
}

func TestSessionConfig(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, `
defaults:
  threads: 3
  maxDepth: 4
  include:
    - "https://example\\.com/.*"
sessions:
  docs:
    seeds:
      - https://example.com/docs/
    threads: 5
    exclude:
      - ".*\\.zip"
`)

	t.Run("session overrides defaults", func(t *testing.T) {
		t.Parallel()
		cmd := parseCrawlFlags(t, "--config", cfgPath)
		base, file, err := loadConfig(cmd)
		if err != nil {
			t.Fatal(err)
		}
		cfg, err := sessionConfig(cmd, base, file, "docs", nil)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.SessionID != "docs" {
			t.Errorf("SessionID = %q", cfg.SessionID)
		}
		if cfg.NumOfThreads != 5 {
			t.Errorf("NumOfThreads = %d, want 5", cfg.NumOfThreads)
		}
		if cfg.MaxDepth != 4 {
			t.Errorf("MaxDepth = %d, want 4", cfg.MaxDepth)
		}
		if len(cfg.Seeds) != 1 || cfg.Seeds[0] != "https://example.com/docs/" {
			t.Errorf("Seeds = %v", cfg.Seeds)
		}
		if len(cfg.Include) != 1 || len(cfg.Exclude) != 1 {
			t.Errorf("Include = %v, Exclude = %v", cfg.Include, cfg.Exclude)
		}
	})

	t.Run("changed flags override the file", func(t *testing.T) {
		t.Parallel()
		cmd := parseCrawlFlags(t, "--config", cfgPath, "--threads", "7", "--max-depth", "0",
			"--exclude", ".*\\.tar", "-H", "X-Token: abc")
		base, file, err := loadConfig(cmd)
		if err != nil {
			t.Fatal(err)
		}
		cfg, err := sessionConfig(cmd, base, file, "docs", nil)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.NumOfThreads != 7 {
			t.Errorf("NumOfThreads = %d, want 7", cfg.NumOfThreads)
		}
		if cfg.MaxDepth != 0 {
			t.Errorf("MaxDepth = %d, want 0", cfg.MaxDepth)
		}
		if len(cfg.Exclude) != 2 {
			t.Errorf("Exclude = %v, want file and flag patterns", cfg.Exclude)
		}
		if cfg.Headers["X-Token"] != "abc" {
			t.Errorf("Headers = %v", cfg.Headers)
		}
	})

	t.Run("unchanged flags keep the file", func(t *testing.T) {
		t.Parallel()
		cmd := parseCrawlFlags(t, "--config", cfgPath)
		base, file, err := loadConfig(cmd)
		if err != nil {
			t.Fatal(err)
		}
		cfg, err := sessionConfig(cmd, base, file, "", []string{"https://example.com/"})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.NumOfThreads != 3 {
			t.Errorf("NumOfThreads = %d, want the default section's 3", cfg.NumOfThreads)
		}
		if cfg.Timeout != config.DefaultTimeout {
			t.Errorf("Timeout = %v", cfg.Timeout)
		}
	})

	t.Run("arguments replace seeds", func(t *testing.T) {
		t.Parallel()
		cmd := parseCrawlFlags(t, "--config", cfgPath)
		base, file, err := loadConfig(cmd)
		if err != nil {
			t.Fatal(err)
		}
		cfg, err := sessionConfig(cmd, base, file, "docs", []string{"https://example.com/blog/"})
		if err != nil {
			t.Fatal(err)
		}
		if len(cfg.Seeds) != 1 || cfg.Seeds[0] != "https://example.com/blog/" {
			t.Errorf("Seeds = %v", cfg.Seeds)
		}
	})

	t.Run("base is not modified", func(t *testing.T) {
		t.Parallel()
		cmd := parseCrawlFlags(t, "--config", cfgPath, "--include", "x")
		base, file, err := loadConfig(cmd)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := sessionConfig(cmd, base, file, "docs", nil); err != nil {
			t.Fatal(err)
		}
		if len(base.Include) != 0 {
			t.Errorf("base.Include = %v", base.Include)
		}
	})
}

func TestSessionConfigErrors(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, "defaults:\n  threads: 2\n")

	tests := []struct {
		name string
		args []string
		seed []string
		want error
	}{
		{"no seed", nil, nil, config.ErrNoSeed},
		{"zero threads", []string{"--threads", "0"}, []string{"https://example.com/"}, config.ErrInvalidNumOfThreads},
		{"both formats", []string{"--json", "--markdown"}, []string{"https://example.com/"}, config.ErrConflictingReportFormats},
		{"resume without session", []string{"--resume"}, nil, config.ErrResumeWithoutSession},
		{"postgres without dsn", []string{"--db-driver", "postgres"}, []string{"https://example.com/"}, config.ErrMissingDSN},
		{"bad header", []string{"-H", "no-colon"}, []string{"https://example.com/"}, errInvalidHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd := parseCrawlFlags(t, append([]string{"--config", cfgPath}, tt.args...)...)
			base, file, err := loadConfig(cmd)
			if err != nil {
				t.Fatal(err)
			}
			_, err = sessionConfig(cmd, base, file, "", tt.seed)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	cmd := parseCrawlFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, _, err := loadConfig(cmd); !errors.Is(err, config.ErrConfigNotFound) {
		t.Errorf("err = %v, want ErrConfigNotFound", err)
	}
}

func TestCrawlConfigsAll(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, `
sessions:
  b:
    seeds: [https://b.example/]
  a:
    seeds: [https://a.example/]
`)

	t.Run("one config per session in name order", func(t *testing.T) {
		t.Parallel()
		cmd := parseCrawlFlags(t, "--config", cfgPath, "--all")
		base, file, err := loadConfig(cmd)
		if err != nil {
			t.Fatal(err)
		}
		cfgs, err := crawlConfigs(cmd, base, file, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(cfgs) != 2 || cfgs[0].SessionID != "a" || cfgs[1].SessionID != "b" {
			t.Fatalf("unexpected configs: %+v", cfgs)
		}
	})

	t.Run("rejects seed arguments", func(t *testing.T) {
		t.Parallel()
		cmd := parseCrawlFlags(t, "--config", cfgPath, "--all")
		base, file, err := loadConfig(cmd)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := crawlConfigs(cmd, base, file, []string{"https://c.example/"}); !errors.Is(err, errAllWithArgs) {
			t.Errorf("err = %v, want errAllWithArgs", err)
		}
	})

	t.Run("requires sessions", func(t *testing.T) {
		t.Parallel()
		empty := writeConfig(t, "defaults:\n  threads: 1\n")
		cmd := parseCrawlFlags(t, "--config", empty, "--all")
		base, file, err := loadConfig(cmd)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := crawlConfigs(cmd, base, file, nil); !errors.Is(err, errNoSessions) {
			t.Errorf("err = %v, want errNoSessions", err)
		}
	})
}

// crawlReport is the part of the JSON report the tests look at.
type crawlReport struct {
	Summary struct {
		Total  int64 `json:"total"`
		OK     int64 `json:"ok"`
		Failed int64 `json:"failed"`
	} `json:"summary"`
}

// TestCrawlAndSessions drives a session through the CLI: crawl, list,
// report, a refused rerun, and delete.
func TestCrawlAndSessions(t *testing.T) {
	srv := newSite(t)
	cfgPath := writeConfig(t, "defaults:\n  robots: false\n")
	dbDir := t.TempDir()
	store := []string{"--config", cfgPath, "--db-dir", dbDir}

	args := append([]string{"crawl", "--session", "site", "--json", srv.URL + "/"}, store...)
	args = append(args, fastArgs...)
	stdout, stderr, err := execute(t, args...)
	if err != nil {
		t.Fatalf("crawl: %v\n%s", err, stderr)
	}
	var rep crawlReport
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, stdout)
	}
	if rep.Summary.Total != 4 || rep.Summary.OK != 4 {
		t.Errorf("summary = %+v, want 4 OK results", rep.Summary)
	}
	if !strings.Contains(stderr, "Session site done") {
		t.Errorf("expected status line on stderr, got:\n%s", stderr)
	}

	stdout, _, err = execute(t, append([]string{"sessions", "list"}, store...)...)
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	if !strings.Contains(stdout, "site") || !strings.Contains(stdout, "DONE") {
		t.Errorf("unexpected list output:\n%s", stdout)
	}

	reportPath := filepath.Join(t.TempDir(), "out", "site.md")
	_, _, err = execute(t, append([]string{"sessions", "report", "site", "--markdown", "-o", reportPath}, store...)...)
	if err != nil {
		t.Fatalf("sessions report: %v", err)
	}
	md, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "crawlkit Session Report") {
		t.Errorf("unexpected markdown report:\n%s", md)
	}

	_, _, err = execute(t, append([]string{"crawl", "--session", "site", srv.URL + "/"}, store...)...)
	if !errors.Is(err, errSessionExists) {
		t.Errorf("rerun err = %v, want errSessionExists", err)
	}

	for range 2 {
		if _, _, err := execute(t, append([]string{"sessions", "delete", "site"}, store...)...); err != nil {
			t.Fatalf("sessions delete: %v", err)
		}
	}
	stdout, _, err = execute(t, append([]string{"sessions", "list"}, store...)...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "No sessions found") {
		t.Errorf("expected empty list after delete, got:\n%s", stdout)
	}

	_, _, err = execute(t, append([]string{"sessions", "report", "site"}, store...)...)
	if !errors.Is(err, errSessionNotFound) {
		t.Errorf("report err = %v, want errSessionNotFound", err)
	}
}

func TestCrawlResume(t *testing.T) {
	srv := newSite(t)
	cfgPath := writeConfig(t, "defaults:\n  robots: false\n")
	store := []string{"--config", cfgPath, "--db-dir", t.TempDir()}

	args := append([]string{"crawl", "--session", "r", "--max-access", "2", "--json", srv.URL + "/"}, store...)
	args = append(args, fastArgs...)
	stdout, stderr, err := execute(t, args...)
	if err != nil {
		t.Fatalf("first run: %v\n%s", err, stderr)
	}
	var first crawlReport
	if err := json.Unmarshal([]byte(stdout), &first); err != nil {
		t.Fatal(err)
	}
	if first.Summary.Total != 2 {
		t.Fatalf("first run stored %d results, want 2", first.Summary.Total)
	}

	args = append([]string{"crawl", "--session", "r", "--resume", "--json"}, store...)
	args = append(args, fastArgs...)
	stdout, stderr, err = execute(t, args...)
	if err != nil {
		t.Fatalf("resume: %v\n%s", err, stderr)
	}
	var second crawlReport
	if err := json.Unmarshal([]byte(stdout), &second); err != nil {
		t.Fatal(err)
	}
	if second.Summary.Total != 4 {
		t.Errorf("after resume %d results, want 4", second.Summary.Total)
	}

	_, _, err = execute(t, append([]string{"crawl", "--session", "unknown", "--resume"}, store...)...)
	if !errors.Is(err, errSessionNotFound) {
		t.Errorf("err = %v, want errSessionNotFound", err)
	}
}

func TestCrawlAll(t *testing.T) {
	srv := newSite(t)
	cfgPath := writeConfig(t, fmt.Sprintf(`
defaults:
  robots: false
sessions:
  one:
    seeds: [%[1]s/a]
    maxDepth: 0
  two:
    seeds: [%[1]s/b]
`, srv.URL))

	args := []string{"crawl", "--all", "--batch", "2", "--db-driver", "memory", "--config", cfgPath}
	args = append(args, fastArgs...)
	stdout, stderr, err := execute(t, args...)
	if err != nil {
		t.Fatalf("crawl --all: %v\n%s", err, stderr)
	}
	for _, want := range []string{"Session one done (1 results)", "Session two done (1 results)", "Batch completed"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("expected %q in status output:\n%s", want, stderr)
		}
	}
	if strings.Count(stdout, "one") == 0 || strings.Count(stdout, "two") == 0 {
		t.Errorf("expected a report per session:\n%s", stdout)
	}
}

func TestCrawlBackground(t *testing.T) {
	srv := newSite(t)
	cfgPath := writeConfig(t, "defaults:\n  robots: false\n")

	args := []string{"crawl", "--background", "--db-driver", "memory", "--config", cfgPath, srv.URL + "/b"}
	args = append(args, fastArgs...)
	_, stderr, err := execute(t, args...)
	if err != nil {
		t.Fatalf("crawl --background: %v\n%s", err, stderr)
	}
	if !strings.Contains(stderr, "started in the background") {
		t.Errorf("expected background notice:\n%s", stderr)
	}
}

func TestServeMetrics(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.DBDriver = config.DriverMemory
	ctx := t.Context()
	env, err := newEnvironment(ctx, cfg, newLogger(NewRootCmd()))
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	env.metrics.Enqueued(3)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")
	env.serveMetrics(ctx, addr)

	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			body = string(data)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(body, "crawlkit_crawler_") {
		t.Errorf("expected crawlkit metrics, got:\n%s", body)
	}
}
