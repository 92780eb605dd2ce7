package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/nao1215/crawlkit/internal/model"
)

// DefaultUserAgent identifies the crawler to servers and robots.txt.
const DefaultUserAgent = "crawlkit/1.0 (+https://github.com/nao1215/crawlkit)"

// HTTPClient fetches http and https URLs.
type HTTPClient struct {
	client    *http.Client
	transport TransportConfig
	userAgent string
	limits    ContentLimits
	threshold int64
	spoolDir  string
	useRobots bool
	robots    *RobotsChecker
	logger    *slog.Logger

	once InitOnce
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithUserAgent sets the User-Agent header and the robots.txt agent name.
func WithUserAgent(ua string) HTTPOption {
	return func(c *HTTPClient) {
		c.userAgent = ua
	}
}

// WithFollowRedirects controls redirect following. When off, a redirect
// becomes an Expand of its Location.
func WithFollowRedirects(follow bool) HTTPOption {
	return func(c *HTTPClient) {
		c.transport.FollowRedirects = follow
	}
}

// WithProxy routes requests through a SOCKS5 proxy at host:port. The proxy
// is checked on first use; a broken proxy fails every fetch as a connect
// error.
func WithProxy(address string) HTTPOption {
	return func(c *HTTPClient) {
		c.transport.Proxy = address
	}
}

// WithRobots enables robots.txt enforcement.
func WithRobots(enabled bool) HTTPOption {
	return func(c *HTTPClient) {
		c.useRobots = enabled
	}
}

// WithContentLimits sets per-mime content length limits.
func WithContentLimits(limits ContentLimits) HTTPOption {
	return func(c *HTTPClient) {
		c.limits = limits
	}
}

// WithMemoryThreshold sets the body size kept in memory before spooling to disk.
func WithMemoryThreshold(n int64) HTTPOption {
	return func(c *HTTPClient) {
		c.threshold = n
	}
}

// WithSpoolDir sets the directory for spooled bodies.
func WithSpoolDir(dir string) HTTPOption {
	return func(c *HTTPClient) {
		c.spoolDir = dir
	}
}

// WithRequestTimeout bounds each request, body included.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.transport.Timeout = d
	}
}

// WithHeaders sets headers sent with every request.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(c *HTTPClient) {
		c.transport.Headers = headers
	}
}

// WithCookie sets a raw cookie ("session=abc") sent with every request.
func WithCookie(cookie string) HTTPOption {
	return func(c *HTTPClient) {
		c.transport.Cookie = cookie
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) HTTPOption {
	return func(c *HTTPClient) {
		c.transport.InsecureSkipVerify = skip
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// WithTransport replaces the transport of the underlying client, which is
// otherwise built from the other options.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(c *HTTPClient) {
		c.client = &http.Client{Transport: rt}
	}
}

// NewHTTPClient returns an HTTP client. Connections are set up on the first
// fetch.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		userAgent: DefaultUserAgent,
		threshold: DefaultMemoryThreshold,
		logger:    slog.Default(),
		transport: TransportConfig{FollowRedirects: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schemes implements Client.
func (c *HTTPClient) Schemes() []string {
	return []string{"http", "https"}
}

// Close implements Client.
func (c *HTTPClient) Close() error {
	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	return nil
}

func (c *HTTPClient) connect(ctx context.Context) error {
	if c.client == nil {
		client, err := newHTTPClient(c.transport)
		if err != nil {
			return err
		}
		if c.transport.Proxy != "" {
			if err := CheckProxy(ctx, c.transport.Proxy); err != nil {
				return err
			}
		}
		c.client = client
	} else {
		follow := c.transport.FollowRedirects
		c.client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if !follow || len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		}
	}
	if c.useRobots {
		c.robots = NewRobotsChecker(c.client)
	}
	return nil
}

// Fetch implements Client. Without a body the request is a HEAD.
func (c *HTTPClient) Fetch(ctx context.Context, rawURL string, includeBody bool) Outcome {
	if err := c.once.Do(ctx, c.connect); err != nil {
		return Failed(connectError(rawURL, err), nil)
	}

	if c.robots != nil {
		allowed, err := c.robots.Allowed(ctx, rawURL, c.userAgent)
		if err != nil {
			c.logger.Debug("robots.txt unavailable, allowing", "url", rawURL, "error", err)
		}
		if !allowed {
			return Failed(NewFetchError(ErrorRobots, rawURL, ErrRobotsDisallowed), nil)
		}
	}

	method := http.MethodGet
	if !includeBody {
		method = http.MethodHead
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return Failed(NewFetchError(ErrorAccess, rawURL, fmt.Errorf("failed to create request: %w", err)), nil)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Failed(classify(ctx, rawURL, err), nil)
	}
	defer resp.Body.Close()

	mediaType, charset := ParseContentType(resp.Header.Get("Content-Type"))
	data := &model.ResponseData{
		URL:           rawURL,
		Method:        model.Method(method),
		HTTPStatus:    resp.StatusCode,
		MimeType:      mediaType,
		Charset:       charset,
		ContentLength: resp.ContentLength,
		Metadata:      flattenHeader(resp.Header),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			data.LastModified = t
		}
	}

	if isRedirect(resp.StatusCode) {
		if loc, err := resp.Location(); err == nil {
			return Expand([]string{loc.String()})
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data.ExecutionTime = time.Since(start)
		fe := NewFetchError(ErrorStatus, rawURL, fmt.Errorf("unexpected status %s", resp.Status))
		fe.StatusCode = resp.StatusCode
		return Failed(fe, data)
	}
	if fe := c.limits.Check(rawURL, mediaType, resp.ContentLength); fe != nil {
		return Failed(fe, data)
	}

	if includeBody {
		body, err := Spool(resp.Body, c.limits.Limit(mediaType), c.threshold, c.spoolDir)
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				return Failed(NewFetchError(ErrorTooLarge, rawURL, err), data)
			}
			return Failed(classify(ctx, rawURL, err), data)
		}
		data.Body = body
		data.ContentLength = body.Len()
		if data.MimeType == "" {
			data.MimeType, data.Charset = Sniff(body)
			if fe := c.limits.Check(rawURL, data.MimeType, body.Len()); fe != nil {
				_ = body.Close()
				data.Body = nil
				return Failed(fe, data)
			}
		}
	}
	if data.MimeType == "" {
		data.MimeType = MimeByExtension(path.Base(resp.Request.URL.Path))
	}
	if u := resp.Request.URL.String(); u != rawURL {
		data.Metadata["Final-Url"] = u
	}

	data.ExecutionTime = time.Since(start)
	return Fetched(data)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// resolveURL resolves ref against base, returning ref unchanged when either
// does not parse.
func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
