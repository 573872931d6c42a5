package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a pipeline step.
type Stage string

// Pipeline stages in execution order.
const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// Severity classifies a stage failure.
type Severity int

const (
	// Recoverable failures are logged and the cycle continues with an empty batch.
	Recoverable Severity = iota
	// Fatal failures abort the cycle and are returned to the caller.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// StageError records which stage failed and how badly.
type StageError struct {
	Stage    Stage
	Severity Severity
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage (%s): %v", e.Stage, e.Severity, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewFatal wraps err as a fatal failure of stage.
func NewFatal(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Severity: Fatal, Err: err}
}

// NewRecoverable wraps err as a recoverable failure of stage.
func NewRecoverable(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Severity: Recoverable, Err: err}
}

// IsFatal reports whether err carries a fatal StageError.
func IsFatal(err error) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr) && stageErr.Severity == Fatal
}
