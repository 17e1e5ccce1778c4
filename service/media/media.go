// Package media stores uploaded images and hands back durable URLs.
package media

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/KAsare1/strings-server/cmd/utils"
)

// Store is a durable object store for images.
type Store interface {
	// Upload persists r and returns its public URL. name is only a hint
	// used for the extension.
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
	// Delete removes an object previously returned by Upload.
	Delete(ctx context.Context, url string) error
}

// File is one uploaded file as received from a client.
type File struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// FromFileHeaders adapts multipart file headers.
func FromFileHeaders(headers []*multipart.FileHeader) []File {
	files := make([]File, 0, len(headers))
	for _, h := range headers {
		h := h
		files = append(files, File{
			Filename: h.Filename,
			Size:     h.Size,
			Open: func() (io.ReadCloser, error) {
				return h.Open()
			},
		})
	}
	return files
}

const DefaultMaxBytes = 6 << 20

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

func IsValidImageType(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Validate checks count, type and size of files before anything is uploaded.
func Validate(field string, files []File, maxFiles int, maxBytes int64) error {
	if len(files) > maxFiles {
		return utils.NewValidationError(field, fmt.Sprintf("at most %d images allowed", maxFiles))
	}
	for _, f := range files {
		if !IsValidImageType(f.Filename) {
			return utils.NewValidationError(field, fmt.Sprintf("%s: only png, jpg, jpeg, webp and gif images are allowed", f.Filename))
		}
		if f.Size > maxBytes {
			return utils.NewValidationError(field, fmt.Sprintf("%s: exceeds maximum size of %d MB", f.Filename, maxBytes/(1<<20)))
		}
	}
	return nil
}
