package sched

import (
	"errors"
	"fmt"
)

var (
	ErrNilEntry        = errors.New("entry is nil")
	ErrNilTask         = errors.New("entry task is nil")
	ErrInvalidInterval = errors.New("interval must be > 0")
	ErrAlreadyAdded    = errors.New("entry already belongs to a scheduler")
)

// CodeConfig is the error code carried by *ConfigError.
const CodeConfig = "CONFIG"

// ConfigError reports a rejected entry or schedule definition.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func newConfigError(field, msg string, cause error) error {
	return &ConfigError{Field: field, Msg: msg, Err: cause}
}

func (e *ConfigError) Error() string {
	prefix := e.Msg
	if e.Field != "" {
		prefix = e.Field + ": " + e.Msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *ConfigError) Code() string  { return CodeConfig }
func (e *ConfigError) Unwrap() error { return e.Err }

// PanicError is returned for a task that panicked instead of returning.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// IsPanic reports whether err came from a recovered task panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
