package urlfilter

import (
	"regexp"
	"strings"
	"sync"
)

// urlParts splits a URL into scheme prefix, authority and the rest.
var urlParts = regexp.MustCompile(`^(.*:/+)([^/]*)(.*)$`)

// DefaultIncludeTemplate keeps a crawl on the scheme and host of its seeds.
const DefaultIncludeTemplate = "$1$2.*"

// HostFilter is a RegexFilter that derives patterns from seed URLs.
// ProcessURL expands the include (and optional exclude) template with the
// seed's regex-quoted parts: $1 is the scheme prefix ("https://"), $2 the
// authority ("example.com:8080") and $3 the path and query.
type HostFilter struct {
	*RegexFilter

	includeTemplate string
	excludeTemplate string

	mu       sync.Mutex
	prefixes map[string]struct{}
}

var _ Filter = (*HostFilter)(nil)

// HostOption configures a HostFilter.
type HostOption func(*HostFilter)

// WithIncludeTemplate sets the include template. An empty template disables it.
func WithIncludeTemplate(tmpl string) HostOption {
	return func(h *HostFilter) {
		h.includeTemplate = tmpl
	}
}

// WithExcludeTemplate sets the exclude template. It is empty by default.
func WithExcludeTemplate(tmpl string) HostOption {
	return func(h *HostFilter) {
		h.excludeTemplate = tmpl
	}
}

// NewHostFilter wraps base.
func NewHostFilter(base *RegexFilter, opts ...HostOption) *HostFilter {
	h := &HostFilter{
		RegexFilter:     base,
		includeTemplate: DefaultIncludeTemplate,
		prefixes:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProcessURL adds the patterns derived from url, once per scheme and authority.
func (h *HostFilter) ProcessURL(url string) {
	m := urlParts.FindStringSubmatch(url)
	if m == nil {
		h.logger.Debug("url has no authority, no pattern derived", "url", url)
		return
	}

	h.mu.Lock()
	key := m[1] + m[2]
	if _, done := h.prefixes[key]; done {
		h.mu.Unlock()
		return
	}
	h.prefixes[key] = struct{}{}
	h.mu.Unlock()

	if h.includeTemplate != "" {
		h.AddInclude(expand(h.includeTemplate, m))
	}
	if h.excludeTemplate != "" {
		h.AddExclude(expand(h.excludeTemplate, m))
	}
}

func expand(tmpl string, m []string) string {
	return strings.NewReplacer(
		"$1", regexp.QuoteMeta(m[1]),
		"$2", regexp.QuoteMeta(m[2]),
		"$3", regexp.QuoteMeta(m[3]),
	).Replace(tmpl)
}
