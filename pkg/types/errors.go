package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when the image folder is missing or not a directory
	ErrInvalidInput = errors.New("invalid input")
	// ErrImageFailed marks a failure confined to a single image
	ErrImageFailed = errors.New("image processing failed")
	// ErrStoreUnavailable is returned when the annotation store is missing or unreadable
	ErrStoreUnavailable = errors.New("annotation store unavailable")
	// ErrMissingSourceImage is returned when a matched image no longer exists on disk
	ErrMissingSourceImage = errors.New("source image missing")
	// ErrIndexLocked is returned when another indexing run holds the store lock
	ErrIndexLocked = errors.New("indexing already in progress")
)

// ImageError describes why one image was skipped
type ImageError struct {
	Filename string
	Stage    string
	Err      error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Filename, e.Stage, e.Err)
}

func (e *ImageError) Unwrap() []error {
	return []error{ErrImageFailed, e.Err}
}
