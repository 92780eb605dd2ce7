package protocol

import (
	"context"

	"github.com/nao1215/crawlkit/internal/model"
)

// Client fetches resources for one or more URL schemes.
type Client interface {
	// Fetch retrieves url. When includeBody is false only metadata is
	// fetched and the response has no Body.
	Fetch(ctx context.Context, url string, includeBody bool) Outcome

	// Schemes returns the URL schemes the client serves, lower case.
	Schemes() []string

	// Close releases connections held by the client.
	Close() error
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// KindFetched carries a response.
	KindFetched OutcomeKind = iota
	// KindExpand carries child URLs.
	KindExpand
	// KindFailed carries a FetchError.
	KindFailed
)

// String returns the lower-case name of the kind.
func (k OutcomeKind) String() string {
	switch k {
	case KindFetched:
		return "fetched"
	case KindExpand:
		return "expand"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of a fetch.
type Outcome struct {
	Kind OutcomeKind

	// Response is set for KindFetched, and for KindFailed when the backend
	// answered with a status worth recording (an HTTP 404, for example).
	Response *model.ResponseData

	// ChildURLs is set for KindExpand.
	ChildURLs []string

	// Err is set for KindFailed.
	Err *FetchError
}

// Fetched returns a KindFetched outcome.
func Fetched(resp *model.ResponseData) Outcome {
	return Outcome{Kind: KindFetched, Response: resp}
}

// Expand returns a KindExpand outcome.
func Expand(childURLs []string) Outcome {
	return Outcome{Kind: KindExpand, ChildURLs: childURLs}
}

// Failed returns a KindFailed outcome. resp may be nil.
func Failed(err *FetchError, resp *model.ResponseData) Outcome {
	return Outcome{Kind: KindFailed, Err: err, Response: resp}
}

// Close releases the response body of the outcome, if any.
func (o Outcome) Close() error {
	return o.Response.Close()
}
