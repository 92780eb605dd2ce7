package transformer

import (
	"context"
	"errors"
	"fmt"
	"io"

	exif "github.com/dsoprea/go-exif/v3"

	"github.com/nao1215/crawlkit/internal/model"
)

// DefaultMaxImageBytes bounds how much of an image is searched for EXIF.
const DefaultMaxImageBytes = 5 << 20

// exifTags are the EXIF tags kept as attributes.
var exifTags = map[string]bool{
	"GPSLatitude":        true,
	"GPSLongitude":       true,
	"GPSLatitudeRef":     true,
	"GPSLongitudeRef":    true,
	"GPSAltitude":        true,
	"Make":               true,
	"Model":              true,
	"SerialNumber":       true,
	"CameraSerialNumber": true,
	"BodySerialNumber":   true,
	"LensSerialNumber":   true,
	"LensModel":          true,
	"Software":           true,
	"ProcessingSoftware": true,
	"Artist":             true,
	"Copyright":          true,
	"XPAuthor":           true,
	"DateTimeOriginal":   true,
	"DateTimeDigitized":  true,
	"DateTime":           true,
	"HostComputer":       true,
	"ImageDescription":   true,
}

// EXIF extracts image metadata into "exif.<Tag>" attributes.
type EXIF struct {
	maxBytes int64
}

// NewEXIF returns an EXIF transformer.
func NewEXIF() *EXIF {
	return &EXIF{maxBytes: DefaultMaxImageBytes}
}

// Name implements Transformer.
func (e *EXIF) Name() string { return "exif" }

// Transform implements Transformer. Images without EXIF data yield empty
// attributes.
func (e *EXIF) Transform(_ context.Context, resp *model.ResponseData) (*model.ResultData, error) {
	rc, err := openBody(resp)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, e.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	result := &model.ResultData{Attributes: map[string]string{}}
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to locate exif: %w", err)
	}

	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse exif: %w", err)
	}
	for _, entry := range entries {
		if exifTags[entry.TagName] && entry.Formatted != "" {
			result.Attributes["exif."+entry.TagName] = entry.Formatted
		}
	}
	return result, nil
}
