// Package inference - Execution driver: engines that load a serialized graph and run it once.
package inference

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrRunFailed is the single condition every failed load or run reports.
	ErrRunFailed = errors.New("run failed")
	// ErrInputMismatch is returned when supplied inputs do not match the declared input names.
	ErrInputMismatch = errors.New("input mismatch")
	// ErrShapeMismatch is returned when an input shape disagrees with its declaration.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrUnsupported is returned when a graph uses a form the engine cannot execute.
	ErrUnsupported = errors.New("unsupported graph")
)

// RunError carries the engine-provided message of a failed run.
type RunError struct {
	Engine string
	Err    error
}

// Error returns the engine message prefixed with the run-failed condition.
func (e *RunError) Error() string {
	return fmt.Sprintf("%s on %s: %v", ErrRunFailed, e.Engine, e.Err)
}

// Unwrap returns the engine cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is matches ErrRunFailed.
func (e *RunError) Is(target error) bool {
	return target == ErrRunFailed
}

func runFailed(engine string, err error) error {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return err
	}
	return &RunError{Engine: engine, Err: err}
}
