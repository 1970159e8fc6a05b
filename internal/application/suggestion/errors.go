package suggestion

import "errors"

var (
	ErrInvalidImportSource  = errors.New("invalid import source")
	ErrInvalidGroupID       = errors.New("invalid group id")
	ErrInvalidJobID         = errors.New("invalid import job id")
	ErrInvalidParticipantID = errors.New("invalid participant id")
	ErrSubmitImport         = errors.New("failed to submit import job")
	ErrDuplicateImport      = errors.New("import job already submitted")
	ErrImportJobNotFound    = errors.New("import job not found")
	ErrGetImportJob         = errors.New("failed to get import job")
	ErrFindSuggestions      = errors.New("failed to find match suggestions")
)
