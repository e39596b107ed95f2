package core

import (
	"errors"
	"fmt"
)

// ErrAmbiguousExport is returned by ToSin when several magnetrons are held
// and no key was given.
var ErrAmbiguousExport = errors.New("several magnetrons are held, a key is required to export one of them")

// SelectionError reports a key that names no held magnetron.
type SelectionError struct {
	Key string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("there is no magnetron with the key %q", e.Key)
}

// ValidationError represents an invalid argument to the orchestrator.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%s: %s", e.Field, e.Value, e.Message)
}

// ResultCountError reports an invoker that returned the wrong number of
// results for a batch.
type ResultCountError struct {
	Want int
	Got  int
}

func (e *ResultCountError) Error() string {
	return fmt.Sprintf("engine returned %d results for %d configuration files", e.Got, e.Want)
}
