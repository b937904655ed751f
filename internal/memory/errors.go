package memory

import "errors"

var (
	// ErrProfileNotFound is returned by GetProfile when no active profile
	// exists for the user.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrExtractionFailed wraps LLM call errors, malformed responses and
	// timeouts. A failed extraction leaves the store untouched.
	ErrExtractionFailed = errors.New("extraction failed")
)
