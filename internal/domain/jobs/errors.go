package jobs

import "errors"

var (
	// ErrJobNotFound is returned when no status document exists for a job.
	ErrJobNotFound = errors.New("job not found")

	// ErrTotalAlreadySet is returned when total is written a second time.
	ErrTotalAlreadySet = errors.New("job total already set")

	// ErrInvalidTotal is returned for a negative total.
	ErrInvalidTotal = errors.New("invalid job total")

	// ErrCompletionOverflow is returned when a completion would push
	// completed past total.
	ErrCompletionOverflow = errors.New("completion exceeds job total")

	// ErrArtifactNotFound is returned when no artifact is stored under a key.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrMalformedMessage marks a queue payload that can never be processed.
	ErrMalformedMessage = errors.New("malformed queue message")
)
