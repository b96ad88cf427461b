package quill

import "errors"

var (
	// ErrNotFound is returned when a post or image does not exist.
	ErrNotFound = errors.New("not found")

	// ErrImageDecode is returned for image payloads that are not valid base64.
	ErrImageDecode = errors.New("image decode failed")
)

// ValidationError reports a rejected post input. Nothing is written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
