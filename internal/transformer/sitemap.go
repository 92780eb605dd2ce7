package transformer

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/nao1215/crawlkit/internal/model"
)

// DefaultMaxSitemapBytes bounds a decompressed sitemap.
const DefaultMaxSitemapBytes = 50 << 20

// ErrNotSitemap is returned for bodies that are neither an XML sitemap nor
// a plain text URL list.
var ErrNotSitemap = errors.New("not a sitemap")

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

type urlSet struct {
	URLs []sitemapLoc `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

// ParseSitemap reads an XML urlset or sitemapindex, or a text file with one
// absolute URL per line, optionally gzip compressed, and returns its URLs.
func ParseSitemap(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotSitemap, err)
		}
		defer zr.Close()
		br = bufio.NewReader(zr)
	}

	data, err := io.ReadAll(io.LimitReader(br, DefaultMaxSitemapBytes))
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(bytes.TrimSpace(data), []byte("\xef\xbb\xbf"))
	if len(data) == 0 {
		return nil, ErrNotSitemap
	}
	if data[0] == '<' {
		return parseXMLSitemap(data)
	}
	return parseTextSitemap(data)
}

func parseXMLSitemap(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotSitemap, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var locs []sitemapLoc
		switch start.Name.Local {
		case "urlset":
			var set urlSet
			if err := dec.DecodeElement(&set, &start); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotSitemap, err)
			}
			locs = set.URLs
		case "sitemapindex":
			var index sitemapIndex
			if err := dec.DecodeElement(&index, &start); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotSitemap, err)
			}
			locs = index.Sitemaps
		default:
			return nil, fmt.Errorf("%w: root element <%s>", ErrNotSitemap, start.Name.Local)
		}

		out := make([]string, 0, len(locs))
		for _, l := range locs {
			if loc := strings.TrimSpace(l.Loc); loc != "" {
				out = append(out, loc)
			}
		}
		return out, nil
	}
}

func parseTextSitemap(data []byte) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: %q is not an absolute url", ErrNotSitemap, line)
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Sitemap turns sitemaps into child URLs. The sitemap itself is stored
// without data.
type Sitemap struct{}

// NewSitemap returns a Sitemap transformer.
func NewSitemap() *Sitemap { return &Sitemap{} }

// Name implements Transformer.
func (s *Sitemap) Name() string { return "sitemap" }

// Transform implements Transformer.
func (s *Sitemap) Transform(_ context.Context, resp *model.ResponseData) (*model.ResultData, error) {
	rc, err := openBody(resp)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	urls, err := ParseSitemap(rc)
	if err != nil {
		return nil, err
	}
	return &model.ResultData{
		Attributes: map[string]string{"urls": fmt.Sprint(len(urls))},
		ChildURLs:  urls,
	}, nil
}
