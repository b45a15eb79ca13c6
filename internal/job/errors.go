package job

import (
	"errors"
	"fmt"
)

var (
	ErrNoExecutor           = errors.New("no executor was declared for the job")
	ErrNilItem              = errors.New("job item is nil")
	ErrInvalidLanes         = errors.New("no positive number for lanes of execution was specified")
	ErrInvalidReservedLanes = errors.New("reserved lanes must be >= 0")
	ErrNotRunning           = errors.New("scheduler is not running")
	ErrStopping             = errors.New("scheduler is stopping")
	ErrDuplicate            = errors.New("job skipped, declared unique and there were another")
)

// PanicError is what a worker reports when an executor panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// IsPanic reports whether err came from a recovered executor panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
