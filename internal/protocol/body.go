package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/nao1215/crawlkit/internal/model"
)

// DefaultMemoryThreshold is the body size kept in memory before spooling to
// a temporary file.
const DefaultMemoryThreshold = 1 << 20

// Spool reads r into a body. Payloads up to threshold bytes stay in memory;
// larger ones are written to a temporary file in dir (os.TempDir when empty)
// that is removed when the body is closed. Reading more than limit bytes
// fails with ErrTooLarge; a limit of zero or less means unlimited.
func Spool(r io.Reader, limit, threshold int64, dir string) (model.Body, error) {
	if threshold <= 0 {
		threshold = DefaultMemoryThreshold
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}

	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, threshold+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if limit > 0 && n > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if n <= threshold {
		return &memoryBody{data: buf.Bytes()}, nil
	}

	f, err := os.CreateTemp(dir, "crawlkit-body-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	written, err := f.Write(buf.Bytes())
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to write spool file: %w", err)
	}
	rest, err := io.Copy(f, r)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to write spool file: %w", err)
	}
	total := int64(written) + rest
	if limit > 0 && total > limit {
		cleanup()
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to close spool file: %w", err)
	}

	return &fileBody{path: f.Name(), size: total, temp: true}, nil
}

// BytesBody returns an in-memory body.
func BytesBody(data []byte) model.Body {
	return &memoryBody{data: data}
}

// FileBody returns a body that reads the file at path. The file is left in
// place when the body is closed.
func FileBody(path string, size int64) model.Body {
	return &fileBody{path: path, size: size}
}

type memoryBody struct {
	data []byte
}

func (b *memoryBody) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *memoryBody) Len() int64 { return int64(len(b.data)) }

func (b *memoryBody) Close() error { return nil }

type fileBody struct {
	path string
	size int64
	temp bool

	once sync.Once
	err  error
}

func (b *fileBody) Open() (io.ReadCloser, error) {
	return os.Open(b.path)
}

func (b *fileBody) Len() int64 { return b.size }

func (b *fileBody) Close() error {
	if !b.temp {
		return nil
	}
	b.once.Do(func() {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.err = err
		}
	})
	return b.err
}
