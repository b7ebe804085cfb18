package models

import (
	"errors"
	"fmt"
)

// ErrValidation reports an invalid field on a model.
type ErrValidation struct {
	Field   string
	Message string
}

func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunIDRequired indicates a child row without its run.
	ErrRunIDRequired = errors.New("run_id is required")

	// ErrStreamNameRequired indicates a result or snapshot without a stream.
	ErrStreamNameRequired = errors.New("stream_name is required")

	// ErrRunFinished is returned when finishing a run twice.
	ErrRunFinished = errors.New("run already finished")
)
