package suggestion

import "errors"

var (
	ErrSchema            = errors.New("input schema is missing required fields")
	ErrUnavailable       = errors.New("service unavailable: shutdown in progress")
	ErrJobNotFound       = errors.New("import job not found")
	ErrInvalidTransition = errors.New("invalid import job status transition")
	ErrInvalidSuggestion = errors.New("invalid match suggestion")
	ErrUnknownKind       = errors.New("unknown record kind")
)
