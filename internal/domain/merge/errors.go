package merge

import "errors"

// Sentinel kinds for merge errors.
var (
	ErrEmptyBatch = errors.New("empty delta batch")
)
