package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nao1215/crawlkit/internal/model"
)

// FileClient fetches file:// URLs from the local filesystem. Directories
// expand to their entries; files are served in place without copying.
type FileClient struct {
	limits ContentLimits
}

// NewFileClient returns a local filesystem client.
func NewFileClient(limits ContentLimits) *FileClient {
	return &FileClient{limits: limits}
}

// Schemes implements Client.
func (c *FileClient) Schemes() []string { return []string{"file"} }

// Close implements Client.
func (c *FileClient) Close() error { return nil }

// Fetch implements Client.
func (c *FileClient) Fetch(ctx context.Context, rawURL string, includeBody bool) Outcome {
	start := time.Now()
	p, err := FilePath(rawURL)
	if err != nil {
		return Failed(NewFetchError(ErrorAccess, rawURL, err), nil)
	}
	if err := ctx.Err(); err != nil {
		return Failed(classify(ctx, rawURL, err), nil)
	}

	info, err := os.Stat(p)
	if err != nil {
		return Failed(NewFetchError(ErrorAccess, rawURL, err), nil)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(p)
		if err != nil {
			return Failed(NewFetchError(ErrorAccess, rawURL, err), nil)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return Expand(childURLs(dirURL(rawURL), names))
	}
	if !info.Mode().IsRegular() {
		return Failed(NewFetchError(ErrorAccess, rawURL, fmt.Errorf("%s is not a regular file", p)), nil)
	}

	mediaType := MimeByExtension(info.Name())
	data := &model.ResponseData{
		URL:           rawURL,
		Method:        model.MethodGet,
		MimeType:      mediaType,
		ContentLength: info.Size(),
		LastModified:  info.ModTime(),
		Metadata:      map[string]string{"Mode": info.Mode().String()},
	}
	if fe := c.limits.Check(rawURL, mediaType, info.Size()); fe != nil {
		return Failed(fe, data)
	}
	if includeBody {
		data.Body = FileBody(p, info.Size())
		if sniffed, charset := Sniff(data.Body); mediaType == "application/octet-stream" && sniffed != "" {
			data.MimeType, data.Charset = sniffed, charset
		}
	} else {
		data.Method = model.MethodHead
	}
	data.ExecutionTime = time.Since(start)
	return Fetched(data)
}

// FilePath converts a file:// URL to a local path.
func FilePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid file url %q: %w", rawURL, err)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", errors.New("remote file hosts are not supported: " + u.Host)
	}
	if u.Path == "" {
		return "", fmt.Errorf("invalid file url %q: empty path", rawURL)
	}
	return filepath.FromSlash(u.Path), nil
}

// FileURL converts a local path to a file:// URL. Directories get a
// trailing slash.
func FileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	if info, err := os.Stat(abs); err == nil && info.IsDir() && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// dirURL returns rawURL with a trailing slash.
func dirURL(rawURL string) string {
	if strings.HasSuffix(rawURL, "/") {
		return rawURL
	}
	return rawURL + "/"
}

// childURLs resolves names (directories ending in "/") against a directory
// URL, sorted.
func childURLs(dir string, names []string) []string {
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		ref := (&url.URL{Path: name}).String()
		if strings.HasPrefix(ref, "./") {
			ref = ref[2:]
		}
		out = append(out, resolveURL(dir, "./"+ref))
	}
	return out
}
