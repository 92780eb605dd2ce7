package protocol

import (
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLimit is how many leading bytes are inspected when sniffing.
const sniffLimit = 3072

// ParseContentType splits a Content-Type header into the lower-case media
// type and its charset parameter.
func ParseContentType(header string) (mediaType, charset string) {
	if header == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(header)
	if err != nil {
		mt, _, _ = strings.Cut(header, ";")
		return strings.ToLower(strings.TrimSpace(mt)), ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

// Sniff detects the media type and charset of the body's leading bytes.
func Sniff(body Opener) (mediaType, charset string) {
	if body == nil {
		return "", ""
	}
	rc, err := body.Open()
	if err != nil {
		return "", ""
	}
	defer rc.Close()

	head := make([]byte, sniffLimit)
	n, _ := io.ReadFull(rc, head)
	return ParseContentType(mimetype.Detect(head[:n]).String())
}

// Opener is the read half of model.Body.
type Opener interface {
	Open() (io.ReadCloser, error)
}

// MimeByExtension guesses a media type from a file name, falling back to
// application/octet-stream.
func MimeByExtension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		if t, _ := ParseContentType(mime.TypeByExtension(name[i:])); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}
