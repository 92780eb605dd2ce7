package protocol

import (
	"fmt"
	"strings"
)

// ContentLimits caps content length per mime type. A limit of zero or less
// means unlimited.
type ContentLimits struct {
	// Default applies to mime types with no entry in PerMime.
	Default int64

	// PerMime maps a mime type ("image/jpeg") or a type wildcard
	// ("image/*") to its limit.
	PerMime map[string]int64
}

// Limit returns the limit that applies to mimeType.
func (l ContentLimits) Limit(mimeType string) int64 {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if n, ok := l.PerMime[mimeType]; ok {
		return n
	}
	if i := strings.IndexByte(mimeType, '/'); i > 0 {
		if n, ok := l.PerMime[mimeType[:i]+"/*"]; ok {
			return n
		}
	}
	return l.Default
}

// Check returns a too_large failure when n exceeds the limit for mimeType.
// An unknown length (n < 0) always passes.
func (l ContentLimits) Check(url, mimeType string, n int64) *FetchError {
	limit := l.Limit(mimeType)
	if limit <= 0 || n < 0 || n <= limit {
		return nil
	}
	return NewFetchError(ErrorTooLarge, url,
		fmt.Errorf("%w: %d > %d bytes for %s", ErrTooLarge, n, limit, mimeType))
}
