package upload

import "strings"

// MaxFileSize is the largest accepted upload, 10 MiB.
const MaxFileSize = 10 * 1024 * 1024

// ImageTypePrefix is the required prefix of an accepted media type.
const ImageTypePrefix = "image/"

// Rejection reasons surfaced to the user.
const (
	ReasonNotImage = "not an image"
	ReasonTooLarge = "file too large"
)

// ValidationError reports why a file was rejected before any analysis ran.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NotImage reports whether the rejection was caused by the media type.
func (e *ValidationError) NotImage() bool {
	return e != nil && e.Reason == ReasonNotImage
}

// TooLarge reports whether the rejection was caused by the file size.
func (e *ValidationError) TooLarge() bool {
	return e != nil && e.Reason == ReasonTooLarge
}

// Validate checks a file against the size and media type limits. It performs no I/O.
// Size is checked first so oversized files are rejected whatever their type.
// A nil file is not an error; callers treat it as nothing selected.
func Validate(f *File) error {
	if f == nil {
		return nil
	}
	if f.Size > MaxFileSize {
		return &ValidationError{Reason: ReasonTooLarge}
	}
	if !strings.HasPrefix(strings.ToLower(f.ContentType), ImageTypePrefix) {
		return &ValidationError{Reason: ReasonNotImage}
	}
	return nil
}
