package urlfilter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/store"
)

var (
	// ErrNotInitialized is returned by operations that need a committed session.
	ErrNotInitialized = errors.New("url filter is not initialized")

	// ErrInvalidPattern is returned for patterns that are not valid regular
	// expressions.
	ErrInvalidPattern = errors.New("invalid url pattern")
)

// Filter decides whether a URL may be crawled in a session.
type Filter interface {
	// Init commits the staged patterns for sessionID and loads the stored set.
	Init(ctx context.Context, sessionID string) error

	// AddInclude adds an include pattern. Invalid patterns are dropped.
	AddInclude(pattern string)

	// AddExclude adds an exclude pattern. Invalid patterns are dropped.
	AddExclude(pattern string)

	// Match reports whether url may be crawled.
	Match(url string) bool

	// ProcessURL lets the filter derive patterns from a seed URL.
	ProcessURL(url string)

	// Clear removes the committed patterns of the session.
	Clear(ctx context.Context) error
}

type compiled struct {
	pattern model.FilterPattern
	re      *regexp.Regexp
}

// RegexFilter is the regular expression Filter.
type RegexFilter struct {
	store  store.PatternStore
	logger *slog.Logger

	mu        sync.RWMutex
	sessionID string
	staged    []compiled
	include   []*regexp.Regexp
	exclude   []*regexp.Regexp
}

var _ Filter = (*RegexFilter)(nil)

// Option configures a RegexFilter.
type Option func(*RegexFilter)

// WithLogger sets the logger used for pattern warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(f *RegexFilter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New returns a RegexFilter that commits to s.
func New(s store.PatternStore, opts ...Option) *RegexFilter {
	f := &RegexFilter{
		store:  s,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AddInclude adds an include pattern. Errors are logged.
func (f *RegexFilter) AddInclude(pattern string) {
	f.addLogged(model.Include, pattern)
}

// AddExclude adds an exclude pattern. Errors are logged.
func (f *RegexFilter) AddExclude(pattern string) {
	f.addLogged(model.Exclude, pattern)
}

// AddIncludeContext adds an include pattern, writing it to the store under
// ctx once the filter is initialized.
func (f *RegexFilter) AddIncludeContext(ctx context.Context, pattern string) error {
	return f.add(ctx, model.Include, pattern)
}

// AddExcludeContext adds an exclude pattern, writing it to the store under
// ctx once the filter is initialized.
func (f *RegexFilter) AddExcludeContext(ctx context.Context, pattern string) error {
	return f.add(ctx, model.Exclude, pattern)
}

func (f *RegexFilter) addLogged(dir model.Direction, pattern string) {
	if err := f.add(context.Background(), dir, pattern); err != nil {
		f.logger.Warn("url pattern ignored", "direction", dir.String(), "pattern", pattern, "error", err)
	}
}

// add stages the pattern before Init and writes it through afterwards.
func (f *RegexFilter) add(ctx context.Context, dir model.Direction, pattern string) error {
	re, err := compile(pattern)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	p := model.FilterPattern{SessionID: f.sessionID, Direction: dir, Regex: pattern}
	if f.sessionID == "" {
		for _, s := range f.staged {
			if s.pattern.Direction == dir && s.pattern.Regex == pattern {
				return nil
			}
		}
		f.staged = append(f.staged, compiled{pattern: p, re: re})
		return nil
	}

	if err := f.store.SavePatterns(ctx, f.sessionID, []model.FilterPattern{p}); err != nil {
		return fmt.Errorf("failed to save url pattern for session %s: %w", f.sessionID, err)
	}
	if dir == model.Exclude {
		f.exclude = appendUnique(f.exclude, re)
	} else {
		f.include = appendUnique(f.include, re)
	}
	return nil
}

func appendUnique(list []*regexp.Regexp, re *regexp.Regexp) []*regexp.Regexp {
	for _, r := range list {
		if r.String() == re.String() {
			return list
		}
	}
	return append(list, re)
}

// Init commits the staged patterns to the store under sessionID and
// replaces the in-memory sets with the stored ones.
func (f *RegexFilter) Init(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	patterns := make([]model.FilterPattern, 0, len(f.staged))
	for _, s := range f.staged {
		p := s.pattern
		p.SessionID = sessionID
		patterns = append(patterns, p)
	}
	if err := f.store.SavePatterns(ctx, sessionID, patterns); err != nil {
		return fmt.Errorf("failed to commit url patterns: %w", err)
	}

	stored, err := f.store.Patterns(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load url patterns: %w", err)
	}

	var include, exclude []*regexp.Regexp
	for _, p := range stored {
		re, err := compile(p.Regex)
		if err != nil {
			f.logger.Warn("invalid stored url pattern ignored", "session", sessionID, "pattern", p.Regex, "error", err)
			continue
		}
		if p.Direction == model.Exclude {
			exclude = append(exclude, re)
		} else {
			include = append(include, re)
		}
	}

	f.sessionID = sessionID
	f.staged = nil
	f.include = include
	f.exclude = exclude
	f.logger.Debug("url filter initialized", "session", sessionID, "include", len(include), "exclude", len(exclude))
	return nil
}

// Match reports whether url may be crawled: no exclude pattern matches and,
// when include patterns exist, at least one of them matches.
func (f *RegexFilter) Match(url string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.sessionID == "" {
		var include, exclude []*regexp.Regexp
		for _, s := range f.staged {
			if s.pattern.Direction == model.Exclude {
				exclude = append(exclude, s.re)
			} else {
				include = append(include, s.re)
			}
		}
		return match(url, include, exclude)
	}
	return match(url, f.include, f.exclude)
}

func match(url string, include, exclude []*regexp.Regexp) bool {
	for _, re := range exclude {
		if re.MatchString(url) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, re := range include {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// compile validates pattern and returns it anchored at both ends, so a
// pattern has to describe the whole URL.
func compile(pattern string) (*regexp.Regexp, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, err
	}
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

// ProcessURL does nothing for a plain RegexFilter.
func (f *RegexFilter) ProcessURL(string) {}

// Clear deletes the committed patterns and resets the filter to staging.
func (f *RegexFilter) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sessionID != "" {
		if err := f.store.DeletePatterns(ctx, f.sessionID); err != nil {
			return fmt.Errorf("failed to delete url patterns: %w", err)
		}
	}
	f.sessionID = ""
	f.staged = nil
	f.include = nil
	f.exclude = nil
	return nil
}

// SessionID returns the committed session, or "" before Init.
func (f *RegexFilter) SessionID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sessionID
}
