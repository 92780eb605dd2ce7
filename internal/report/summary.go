package report

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/store"
)

// MaxFailures bounds the failures listed in a Summary.
const MaxFailures = 50

// Count is one bucket of a breakdown.
type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Failure is a failed result listed in a Summary.
type Failure struct {
	URL        string `json:"url"`
	Kind       string `json:"kind"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Summary aggregates the results of one session.
type Summary struct {
	Session     model.CrawlSession `json:"session"`
	GeneratedAt time.Time          `json:"generated_at"`

	Total        int64 `json:"total"`
	OK           int64 `json:"ok"`
	Failed       int64 `json:"failed"`
	ContentBytes int64 `json:"content_bytes"`
	MaxDepth     int   `json:"max_depth"`

	ByMimeType   []Count `json:"by_mime_type,omitempty"`
	ByStatusCode []Count `json:"by_status_code,omitempty"`
	ByRule       []Count `json:"by_rule,omitempty"`
	ByErrorKind  []Count `json:"by_error_kind,omitempty"`
	ByDepth      []Count `json:"by_depth,omitempty"`

	// Failures lists up to MaxFailures failed results in store order.
	Failures []Failure `json:"failures,omitempty"`
}

// Summarize builds the Summary of session from its stored results.
func Summarize(ctx context.Context, results store.ResultStore, session *model.CrawlSession) (*Summary, error) {
	s := &Summary{
		Session:     *session,
		GeneratedAt: time.Now(),
	}
	mimes := make(map[string]int64)
	codes := make(map[string]int64)
	rules := make(map[string]int64)
	kinds := make(map[string]int64)
	depths := make(map[string]int64)

	err := results.Iterate(ctx, session.SessionID, func(r *model.FetchResult) error {
		s.Total++
		s.ContentBytes += max(r.ContentLength, 0)
		s.MaxDepth = max(s.MaxDepth, r.Depth)
		depths[strconv.Itoa(r.Depth)]++
		if r.MimeType != "" {
			mimes[r.MimeType]++
		}
		if r.HTTPStatus != 0 {
			codes[strconv.Itoa(r.HTTPStatus)]++
		}
		if r.RuleID != "" {
			rules[r.RuleID]++
		}

		if !r.Failed() {
			s.OK++
			return nil
		}
		s.Failed++
		kinds[r.ErrorKind]++
		if len(s.Failures) < MaxFailures {
			s.Failures = append(s.Failures, Failure{
				URL:        r.URL,
				Kind:       r.ErrorKind,
				HTTPStatus: r.HTTPStatus,
				Message:    r.ErrorMessage,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read results of session %s: %w", session.SessionID, err)
	}

	s.ByMimeType = byCount(mimes)
	s.ByStatusCode = byKey(codes)
	s.ByRule = byCount(rules)
	s.ByErrorKind = byCount(kinds)
	s.ByDepth = byKey(depths)
	return s, nil
}

// SuccessRate returns the share of OK results in percent.
func (s *Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.OK) * 100 / float64(s.Total)
}

// byCount orders buckets by descending count, then key.
func byCount(m map[string]int64) []Count {
	out := toCounts(m)
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// byKey orders numeric buckets by their key.
func byKey(m map[string]int64) []Count {
	out := toCounts(m)
	slices.SortFunc(out, func(a, b Count) int {
		x, _ := strconv.Atoi(a.Key)
		y, _ := strconv.Atoi(b.Key)
		return cmp.Compare(x, y)
	})
	return out
}

func toCounts(m map[string]int64) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	return out
}
