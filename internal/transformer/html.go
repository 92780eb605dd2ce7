package transformer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/nao1215/crawlkit/internal/model"
)

// DefaultMaxHTMLBytes bounds how much of a page is parsed.
const DefaultMaxHTMLBytes = 10 << 20

// Selector picks child URLs out of a page: the Attr of every element
// matching Query.
type Selector struct {
	Query string
	Attr  string
}

// DefaultSelectors are the elements whose targets are crawled.
var DefaultSelectors = []Selector{
	{Query: "a[href]", Attr: "href"},
	{Query: "area[href]", Attr: "href"},
	{Query: "frame[src]", Attr: "src"},
	{Query: "iframe[src]", Attr: "src"},
	{Query: "link[href]", Attr: "href"},
	{Query: "img[src]", Attr: "src"},
}

// skippedSchemes never lead to crawlable resources.
var skippedSchemes = map[string]bool{
	"javascript": true,
	"mailto":     true,
	"tel":        true,
	"data":       true,
	"about":      true,
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// HTML extracts text, title and links from HTML pages.
type HTML struct {
	selectors []Selector
	maxBytes  int64
	maxText   int
}

// HTMLOption configures an HTML transformer.
type HTMLOption func(*HTML)

// WithSelectors replaces the child URL selectors.
func WithSelectors(selectors ...Selector) HTMLOption {
	return func(h *HTML) {
		h.selectors = selectors
	}
}

// WithMaxTextLength bounds the stored page text in bytes.
func WithMaxTextLength(n int) HTMLOption {
	return func(h *HTML) {
		h.maxText = n
	}
}

// NewHTML returns an HTML transformer.
func NewHTML(opts ...HTMLOption) *HTML {
	h := &HTML{
		selectors: DefaultSelectors,
		maxBytes:  DefaultMaxHTMLBytes,
		maxText:   DefaultMaxTextBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Transformer.
func (h *HTML) Name() string { return "html" }

// Transform implements Transformer.
func (h *HTML) Transform(ctx context.Context, resp *model.ResponseData) (*model.ResultData, error) {
	rc, err := openBody(resp)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, h.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	sum, err := digest(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	node, err := html.Parse(decode(resp.Charset, bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := goquery.NewDocumentFromNode(node)

	result := &model.ResultData{
		Encoding:   "utf-8",
		Attributes: map[string]string{AttrDigest: sum},
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		result.Attributes[AttrTitle] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok && desc != "" {
		result.Attributes[AttrDescription] = strings.TrimSpace(desc)
	}

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if emails := extractEmails(text); len(emails) > 0 {
		result.Attributes[AttrEmails] = strings.Join(emails, ",")
	}
	if h.maxText > 0 && len(text) > h.maxText {
		text = strings.ToValidUTF8(text[:h.maxText], "")
		result.Attributes[AttrTruncated] = "true"
	}
	result.Data = []byte(text)

	if !nofollow(doc) {
		result.ChildURLs = h.childURLs(doc, pageURL(resp))
	}
	return result, nil
}

// childURLs resolves every selector target against the page's base URL.
func (h *HTML) childURLs(doc *goquery.Document, page string) []string {
	base, err := url.Parse(page)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(b)
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, sel := range h.selectors {
		doc.Find(sel.Query).Each(func(_ int, s *goquery.Selection) {
			if rel, _ := s.Attr("rel"); strings.Contains(strings.ToLower(rel), "nofollow") {
				return
			}
			v, ok := s.Attr(sel.Attr)
			if !ok {
				return
			}
			u := resolve(base, v)
			if u == "" || seen[u] {
				return
			}
			seen[u] = true
			out = append(out, u)
		})
	}
	return out
}

// resolve returns href as an absolute URL without fragment, or "" when it
// cannot be crawled.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if skippedSchemes[strings.ToLower(ref.Scheme)] {
		return ""
	}
	u := base.ResolveReference(ref)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Scheme == "" || skippedSchemes[u.Scheme] {
		return ""
	}
	return u.String()
}

// nofollow reports whether the page's robots meta tag forbids following links.
func nofollow(doc *goquery.Document) bool {
	found := false
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(name, "robots") {
			return true
		}
		content, _ := s.Attr("content")
		for _, d := range strings.Split(strings.ToLower(content), ",") {
			if d = strings.TrimSpace(d); d == "nofollow" || d == "none" {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// pageURL is the URL relative links resolve against: the final URL after
// redirects when the client recorded one.
func pageURL(resp *model.ResponseData) string {
	if u := resp.Metadata["Final-Url"]; u != "" {
		return u
	}
	return resp.URL
}

func extractEmails(text string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, email := range emailRegex.FindAllString(text, -1) {
		lower := strings.ToLower(email)
		if !seen[lower] {
			seen[lower] = true
			unique = append(unique, lower)
		}
	}
	return unique
}
