// Package upload turns raw avatar bytes into a durable, publicly reachable URL.
package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyFile is returned when an upload carries no bytes.
	ErrEmptyFile = errors.New("empty file")
	// ErrUnsupportedType is returned when the bytes are not a supported image.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrUploadFailed wraps every transport or provider failure.
	ErrUploadFailed = errors.New("upload failed")
	// ErrNotConfigured is returned by the disabled uploader.
	ErrNotConfigured = errors.New("avatar uploads are not configured")
)

// imageExtensions maps the sniffed content types accepted as avatars to the
// extension used in object keys.
var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// File is an in-memory upload ready to be handed to an AvatarUploader.
type File struct {
	Content  []byte
	MimeType string
	Ext      string
}

// NewFile builds a File from raw bytes. The type is sniffed from the content;
// client-supplied names and content types are never trusted.
func NewFile(content []byte) (*File, error) {
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}
	mimeType := http.DetectContentType(content)
	ext, ok := imageExtensions[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	return &File{Content: content, MimeType: mimeType, Ext: ext}, nil
}

// Supported reports whether mimeType is an accepted avatar type.
func Supported(mimeType string) bool {
	_, ok := imageExtensions[mimeType]
	return ok
}

// AvatarUploader stores avatar images and returns their URL.
type AvatarUploader interface {
	Upload(ctx context.Context, file *File) (string, error)
}

// Disabled rejects every upload; it is wired when no storage credentials are configured.
type Disabled struct{}

// Upload always fails with ErrNotConfigured.
func (Disabled) Upload(context.Context, *File) (string, error) {
	return "", ErrNotConfigured
}
