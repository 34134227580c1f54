package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// MaxFileSize is the largest accepted upload in bytes.
const MaxFileSize int64 = 10 << 20

var (
	ErrFileTooLarge   = errors.New("File size must be less than 10MB")
	ErrNotImage       = errors.New("Please upload a valid image file")
	ErrInvalidDataURI = errors.New("invalid data URI")
)

// Source describes how a file reached an upload zone.
type Source string

const (
	SourceBrowse Source = "browse"
	SourceDrop   Source = "drop"
)

// File is a candidate upload as offered by the user, before it is read.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Source      Source
	Body        io.Reader
}

// Image is an accepted upload encoded as a self-contained data URI.
type Image struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	DataURI  string `json:"data_uri"`
}

// Validate checks size and MIME type without reading the body.
func Validate(f File, limit int64) error {
	if f.Size > limit {
		return ErrFileTooLarge
	}
	if !IsImageType(f.ContentType) {
		return ErrNotImage
	}
	return nil
}

// IsImageType reports whether a MIME type (parameters allowed) is an image/* type.
func IsImageType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// NeedsSniffing reports whether the declared type carries no useful information.
func NeedsSniffing(contentType string) bool {
	ct := strings.TrimSpace(contentType)
	return ct == "" || strings.HasPrefix(ct, "application/octet-stream")
}

// Sniff detects the MIME type from content and rewinds r to the start.
func Sniff(r io.ReadSeeker) (string, error) {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mtype.String(), nil
}

// Decode reads the body of an already validated file and encodes it as a data URI.
// At most limit+1 bytes are read so a body larger than its declared size is
// still rejected.
func Decode(ctx context.Context, f File, limit int64) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	if f.Body == nil {
		return Image{}, errors.New("upload has no body")
	}
	data, err := io.ReadAll(io.LimitReader(f.Body, limit+1))
	if err != nil {
		return Image{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return Image{}, ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}

	mediaType := f.ContentType
	if parsed, _, err := mime.ParseMediaType(f.ContentType); err == nil {
		mediaType = parsed
	}

	img := Image{
		Name:     f.Name,
		MIMEType: mediaType,
		Size:     int64(len(data)),
		DataURI:  EncodeDataURI(mediaType, data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	return img, nil
}

// EncodeDataURI renders bytes as a base64 data URI.
func EncodeDataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI splits a base64 data URI into its media type and payload.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return mediaType, data, nil
}

// Open prepares a local file for upload. The MIME type is sniffed from its
// content. The caller closes the returned closer.
func Open(path string) (File, io.Closer, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, nil, err
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return File{}, nil, err
	}
	contentType, err := Sniff(fh)
	if err != nil {
		fh.Close()
		return File{}, nil, fmt.Errorf("detect type of %s: %w", path, err)
	}
	return File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Source:      SourceBrowse,
		Body:        fh,
	}, fh, nil
}
