package transformer

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/sha3"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/nao1215/crawlkit/internal/model"
)

// ErrNoBody is returned when a transformer needs a body the response lacks.
var ErrNoBody = errors.New("response has no body")

// Transformer converts a response into result data.
type Transformer interface {
	// Name identifies the transformer in stored results.
	Name() string

	// Transform reads resp.Body, which it must not close.
	Transform(ctx context.Context, resp *model.ResponseData) (*model.ResultData, error)
}

// Attribute keys shared by transformers.
const (
	AttrDigest      = "digest"
	AttrTitle       = "title"
	AttrDescription = "description"
	AttrEmails      = "emails"
	AttrTruncated   = "truncated"
)

// openBody opens resp's body or fails with ErrNoBody.
func openBody(resp *model.ResponseData) (io.ReadCloser, error) {
	if resp == nil || resp.Body == nil {
		return nil, ErrNoBody
	}
	return resp.Body.Open()
}

// digest returns the hex SHA3-256 of r.
func digest(r io.Reader) (string, error) {
	h := sha3.New256()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// decode converts r from the named charset to UTF-8. Unknown charsets pass
// through unchanged.
func decode(charset string, r io.Reader) io.Reader {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "utf8" || charset == "us-ascii" {
		return r
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return r
	}
	return transform.NewReader(r, enc.NewDecoder())
}
