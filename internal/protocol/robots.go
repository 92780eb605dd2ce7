package protocol

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsCacheTTL is how long a host's robots.txt is trusted.
const robotsCacheTTL = time.Hour

// robotsMaxBytes caps the robots.txt body read per host.
const robotsMaxBytes = 512 << 10

type cachedRobots struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsChecker fetches and caches robots.txt rules per host. Missing,
// unreadable or erroring robots.txt files allow everything.
type RobotsChecker struct {
	client   *http.Client
	cache    sync.Map // scheme://host -> *cachedRobots
	cacheTTL time.Duration
	now      func() time.Time
}

// NewRobotsChecker returns a checker fetching robots.txt with client.
func NewRobotsChecker(client *http.Client) *RobotsChecker {
	return &RobotsChecker{
		client:   client,
		cacheTTL: robotsCacheTTL,
		now:      time.Now,
	}
}

// Allowed reports whether userAgent may fetch rawURL. The returned error is
// informational; on error the URL is allowed.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL, userAgent string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, fmt.Errorf("parse URL: %w", err)
	}
	if u.Host == "" {
		return true, nil
	}
	key := u.Scheme + "://" + u.Host

	if v, ok := r.cache.Load(key); ok {
		entry := v.(*cachedRobots)
		if r.now().Sub(entry.fetchedAt) < r.cacheTTL {
			return entry.test(u, userAgent), nil
		}
	}

	data, err := r.fetch(ctx, key)
	entry := &cachedRobots{data: data, fetchedAt: r.now()}
	r.cache.Store(key, entry)
	return entry.test(u, userAgent), err
}

func (c *cachedRobots) test(u *url.URL, userAgent string) bool {
	if c.data == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return c.data.TestAgent(path, userAgent)
}

func (r *RobotsChecker) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create robots.txt request for %s: %w", origin, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt for %s: %w", origin, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt for %s: %w", origin, err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		return nil, nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt for %s: %w", origin, err)
	}
	return data, nil
}

// ClearCache drops every cached robots.txt.
func (r *RobotsChecker) ClearCache() {
	r.cache.Clear()
}
