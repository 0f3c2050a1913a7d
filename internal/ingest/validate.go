package ingest

import (
	"errors"
	"mime/multipart"
	"path/filepath"
	"strings"
)

// Validation failures. The messages are user-facing and returned verbatim in
// error bodies, so they stay in the wording the frontend expects.
var (
	ErrMissingFile          = errors.New("No file provided")
	ErrUnsupportedExtension = errors.New("Only .wav and .mp3 files are supported")
)

var allowedExtensions = map[string]struct{}{
	".wav": {},
	".mp3": {},
}

// Validate checks an inbound submission before any expensive work happens.
func Validate(header *multipart.FileHeader) error {
	if header == nil {
		return ErrMissingFile
	}
	return ValidateFilename(header.Filename)
}

// ValidateFilename accepts only filenames whose final dot-delimited segment is
// a supported audio extension, case-insensitive. The payload itself is never
// sniffed: a caller can submit mismatched content under an accepted extension.
func ValidateFilename(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := allowedExtensions[ext]; !ok {
		return ErrUnsupportedExtension
	}
	return nil
}
