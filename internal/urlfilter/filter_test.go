package urlfilter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/store"
)

// TestMatchSemantics tests include and exclude precedence.
func TestMatchSemantics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		include  []string
		exclude  []string
		url      string
		expected bool
	}{
		{
			name:     "no patterns allows everything",
			url:      "https://anything.example/",
			expected: true,
		},
		{
			name:     "include match allows",
			include:  []string{`^https://example\.com/.*`},
			url:      "https://example.com/a",
			expected: true,
		},
		{
			name:     "exclude wins over include",
			include:  []string{`^https://example\.com/.*`},
			exclude:  []string{`.*\.pdf$`},
			url:      "https://example.com/x.pdf",
			expected: false,
		},
		{
			name:     "include set rejects other hosts",
			include:  []string{`^https://example\.com/.*`},
			exclude:  []string{`.*\.pdf$`},
			url:      "https://other.com/",
			expected: false,
		},
		{
			name:     "exclude only rejects matches",
			exclude:  []string{`.*/private/.*`},
			url:      "https://example.com/private/x",
			expected: false,
		},
		{
			name:     "pattern must match the whole url",
			include:  []string{`https://example\.com/`},
			url:      "https://example.com/deeper",
			expected: false,
		},
		{
			name:     "any include suffices",
			include:  []string{`https://a\.com/.*`, `https://b\.com/.*`},
			url:      "https://b.com/x",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for _, committed := range []bool{false, true} {
				f := New(store.NewMemory())
				for _, p := range tt.include {
					f.AddInclude(p)
				}
				for _, p := range tt.exclude {
					f.AddExclude(p)
				}
				if committed {
					if err := f.Init(context.Background(), "s1"); err != nil {
						t.Fatalf("Init failed: %v", err)
					}
				}
				if got := f.Match(tt.url); got != tt.expected {
					t.Errorf("committed=%v: Match(%q) = %v, expected %v", committed, tt.url, got, tt.expected)
				}
			}
		})
	}
}

// TestInvalidPatternRejected tests that a bad regex is dropped with a warning.
func TestInvalidPatternRejected(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := store.NewMemory()
	f := New(s, WithLogger(logger))

	f.AddInclude("[unclosed")
	f.AddExclude("(")

	if !strings.Contains(buf.String(), "url pattern ignored") || !strings.Contains(buf.String(), "invalid url pattern") {
		t.Errorf("expected a warning, got %q", buf.String())
	}
	if err := f.Init(context.Background(), "s1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	patterns, _ := s.Patterns(context.Background(), "s1")
	if len(patterns) != 0 {
		t.Errorf("expected invalid patterns not to be stored, got %+v", patterns)
	}
	if !f.Match("https://example.com/") {
		t.Error("expected filter with no valid patterns to allow everything")
	}
}

// TestInitCommitsAndLoads tests that Init persists staged patterns and loads stored ones.
func TestInitCommitsAndLoads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()

	first := New(s)
	first.AddInclude(`https://example\.com/.*`)
	first.AddInclude(`https://example\.com/.*`)
	if err := first.Init(ctx, "s1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if first.SessionID() != "s1" {
		t.Errorf("expected session s1, got %q", first.SessionID())
	}

	patterns, _ := s.Patterns(ctx, "s1")
	if len(patterns) != 1 {
		t.Fatalf("expected 1 stored pattern, got %d", len(patterns))
	}

	// A fresh filter for the same session sees the stored set without staging anything.
	resumed := New(s)
	if err := resumed.Init(ctx, "s1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if resumed.Match("https://other.com/") {
		t.Error("expected stored include pattern to apply after resume")
	}

	// Other sessions are unaffected.
	other := New(s)
	if err := other.Init(ctx, "s2"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !other.Match("https://other.com/") {
		t.Error("expected s2 to have no patterns")
	}
}

// TestAddAfterInitWritesThrough tests that patterns added after Init are persisted and applied.
func TestAddAfterInitWritesThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	f := New(s)

	if err := f.Init(ctx, "s1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	f.AddExclude(`.*\.zip`)

	if f.Match("https://example.com/a.zip") {
		t.Error("expected new exclude to apply immediately")
	}
	patterns, _ := s.Patterns(ctx, "s1")
	if len(patterns) != 1 {
		t.Errorf("expected exclude persisted, got %d patterns", len(patterns))
	}
}

// failingPatternStore fails every write with errSave.
type failingPatternStore struct {
	store.PatternStore
}

var errSave = errors.New("pattern table locked")

func (failingPatternStore) SavePatterns(_ context.Context, _ string, patterns []model.FilterPattern) error {
	if len(patterns) == 0 {
		return nil
	}
	return errSave
}

// TestAddContext tests the error-returning pattern methods.
func TestAddContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("invalid pattern", func(t *testing.T) {
		t.Parallel()

		f := New(store.NewMemory())
		if err := f.AddIncludeContext(ctx, "[unclosed"); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("expected ErrInvalidPattern, got %v", err)
		}
	})

	t.Run("write through uses the given context", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemory()
		f := New(s)
		if err := f.Init(ctx, "s1"); err != nil {
			t.Fatalf("Init failed: %v", err)
		}
		if err := f.AddExcludeContext(ctx, `.*\.pdf`); err != nil {
			t.Fatalf("AddExcludeContext failed: %v", err)
		}
		if f.Match("https://example.com/a.pdf") {
			t.Error("expected new exclude to apply immediately")
		}
		patterns, _ := s.Patterns(ctx, "s1")
		if len(patterns) != 1 {
			t.Errorf("expected exclude persisted, got %d patterns", len(patterns))
		}
	})

	t.Run("store failure is returned and not applied", func(t *testing.T) {
		t.Parallel()

		f := New(failingPatternStore{PatternStore: store.NewMemory()})
		if err := f.Init(ctx, "s1"); err != nil {
			t.Fatalf("Init failed: %v", err)
		}
		if err := f.AddExcludeContext(ctx, `.*\.pdf`); !errors.Is(err, errSave) {
			t.Errorf("expected store error, got %v", err)
		}
		if !f.Match("https://example.com/a.pdf") {
			t.Error("expected unsaved pattern not to apply")
		}
	})
}

// TestClear tests that Clear removes committed patterns.
func TestClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	f := New(s)
	f.AddInclude(`https://example\.com/.*`)
	_ = f.Init(ctx, "s1")

	if err := f.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if !f.Match("https://other.com/") {
		t.Error("expected cleared filter to allow everything")
	}
	patterns, _ := s.Patterns(ctx, "s1")
	if len(patterns) != 0 {
		t.Errorf("expected stored patterns removed, got %d", len(patterns))
	}
}
