package importjob

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("import job not found")
	ErrInvalidTransition = errors.New("invalid import job status transition")
	ErrRowsRemaining     = errors.New("cannot complete: unprocessed rows remain")
	ErrNotCancellable    = errors.New("job can only be cancelled while processing")
	ErrPortfolioAttached = errors.New("job already has a portfolio side effect")
	// ErrClaimed signals another invocation currently owns the job's cursor.
	ErrClaimed = errors.New("import job is claimed by another invocation")
	// ErrNotProcessable is returned when a chunk is requested for a job that
	// is neither validated nor processing.
	ErrNotProcessable = errors.New("import job is not in a processable state")
)

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
