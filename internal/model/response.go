package model

import (
	"io"
	"time"
)

// Body gives repeatable access to a fetched payload. A body may live in
// memory or in a temporary file; Close releases whatever backs it.
type Body interface {
	// Open returns a fresh reader positioned at the start of the payload.
	// Each reader must be closed by the caller.
	Open() (io.ReadCloser, error)

	// Len returns the payload size in bytes.
	Len() int64

	// Close releases the payload. It is safe to call more than once.
	Close() error
}

// ResponseData is what a protocol client returns for a fetched resource.
type ResponseData struct {
	SessionID     string
	URL           string
	ParentURL     string
	Depth         int
	Method        Method
	HTTPStatus    int
	MimeType      string
	Charset       string
	ContentLength int64
	LastModified  time.Time
	ExecutionTime time.Duration
	RuleID        string

	// Metadata holds protocol specific details (response headers, object
	// metadata, file mode).
	Metadata map[string]string

	// Body is nil when the fetch did not include a body.
	Body Body
}

// Close releases the response body, if any.
func (r *ResponseData) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// ResultData is a transformer's product for one response.
type ResultData struct {
	// Data is the extracted payload stored with the result.
	Data []byte

	// Encoding names the encoding of Data.
	Encoding string

	// Attributes are extracted key/value facts (title, digest, EXIF tags).
	Attributes map[string]string

	// ChildURLs are absolute URLs discovered in the response.
	ChildURLs []string
}
