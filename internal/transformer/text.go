package transformer

import (
	"bytes"
	"context"
	"io"

	"github.com/nao1215/crawlkit/internal/model"
)

// DefaultMaxTextBytes bounds the payload the Text transformer stores.
const DefaultMaxTextBytes = 1 << 20

// Text stores the leading bytes of any response, decoded to UTF-8, with a
// digest of the whole body.
type Text struct {
	maxBytes int64
}

// NewText returns a Text transformer storing at most maxBytes; zero or less
// selects DefaultMaxTextBytes.
func NewText(maxBytes int64) *Text {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxTextBytes
	}
	return &Text{maxBytes: maxBytes}
}

// Name implements Transformer.
func (t *Text) Name() string { return "text" }

// Transform implements Transformer. A response without a body yields an
// empty result rather than an error.
func (t *Text) Transform(ctx context.Context, resp *model.ResponseData) (*model.ResultData, error) {
	result := &model.ResultData{Attributes: map[string]string{}}
	if resp.Body == nil {
		return result, nil
	}

	rc, err := openBody(resp)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var head bytes.Buffer
	sum, err := digest(io.TeeReader(rc, &limitedWriter{w: &head, n: t.maxBytes}))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result.Attributes[AttrDigest] = sum
	if resp.Body.Len() > t.maxBytes {
		result.Attributes[AttrTruncated] = "true"
	}

	data, err := io.ReadAll(decode(resp.Charset, &head))
	if err != nil {
		return nil, err
	}
	result.Data = data
	result.Encoding = "utf-8"
	return result, nil
}

// limitedWriter keeps the first n bytes written to it and discards the rest.
type limitedWriter struct {
	w io.Writer
	n int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n > 0 {
		chunk := p
		if int64(len(chunk)) > l.n {
			chunk = chunk[:l.n]
		}
		n, err := l.w.Write(chunk)
		l.n -= int64(n)
		if err != nil {
			return n, err
		}
	}
	return len(p), nil
}
