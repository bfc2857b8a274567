package jobs

import "errors"

var (
	ErrNotFound            = errors.New("job not found")
	ErrInvalidType         = errors.New("invalid job type")
	ErrInvalidPayload      = errors.New("invalid job payload")
	ErrPayloadTypeMismatch = errors.New("payload type mismatch for job type")
)
