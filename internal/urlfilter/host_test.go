package urlfilter

import (
	"context"
	"testing"

	"github.com/nao1215/crawlkit/internal/store"
)

// TestHostFilterProcessURL tests that seeds restrict the crawl to their hosts.
func TestHostFilterProcessURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewHostFilter(New(store.NewMemory()))

	f.ProcessURL("https://example.com:8443/docs/index.html")
	f.ProcessURL("https://example.com:8443/other")
	f.ProcessURL("http://mirror.example.org/")
	if err := f.Init(ctx, "s1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com:8443/anything", true},
		{"https://example.com:8443", true},
		{"http://mirror.example.org/a/b", true},
		{"https://example.com/no-port", false},
		{"https://exampleXcom:8443/", false},
		{"https://evil.com/?u=https://example.com:8443/", false},
	}
	for _, tt := range tests {
		if got := f.Match(tt.url); got != tt.expected {
			t.Errorf("Match(%q) = %v, expected %v", tt.url, got, tt.expected)
		}
	}

	patterns, _ := f.store.Patterns(ctx, "s1")
	if len(patterns) != 2 {
		t.Errorf("expected one pattern per host, got %d", len(patterns))
	}
}

// TestHostFilterExcludeTemplate tests the optional exclude template.
func TestHostFilterExcludeTemplate(t *testing.T) {
	t.Parallel()

	f := NewHostFilter(New(store.NewMemory()),
		WithIncludeTemplate(""),
		WithExcludeTemplate("$1$2/admin/.*"),
	)
	f.ProcessURL("https://example.com/")

	if f.Match("https://example.com/admin/users") {
		t.Error("expected admin path excluded")
	}
	if !f.Match("https://other.com/") {
		t.Error("expected no include restriction")
	}
}

// TestHostFilterIgnoresOpaqueURLs tests URLs without an authority.
func TestHostFilterIgnoresOpaqueURLs(t *testing.T) {
	t.Parallel()

	f := NewHostFilter(New(store.NewMemory()))
	f.ProcessURL("mailto:someone@example.com")

	if !f.Match("https://anything/") {
		t.Error("expected no pattern derived from an opaque url")
	}
}
