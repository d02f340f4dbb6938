package maintenance

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidProviderState = errors.New("provider is not verified and active")
	ErrAlreadyCompleted     = errors.New("job already completed")
	ErrInvalidInput         = errors.New("invalid input")
)

// ErrConflict is returned by a Store when the conditional update matched no
// row because another writer moved the job first.
var ErrConflict = fmt.Errorf("%w: job was modified concurrently", ErrInvalidState)
