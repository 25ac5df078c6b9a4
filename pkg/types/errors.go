// Package types defines error types
package types

import (
	"errors"
	"fmt"
	"time"
)

// Predefined errors
var (
	// ErrInterrupted indicates a blocking call was cancelled while waiting.
	// Nothing was inserted or consumed by the interrupted call.
	ErrInterrupted = errors.New("operation interrupted")
	// ErrDurableWrite indicates the durable log could not be opened or written
	ErrDurableWrite = errors.New("durable write failure")
	// ErrShutdownTimeout indicates a stage did not stop within its join window
	ErrShutdownTimeout = errors.New("shutdown timeout")
	// ErrInvalidCapacity indicates a non-positive queue capacity
	ErrInvalidCapacity = errors.New("capacity must be positive")
	// ErrAlreadyClassified indicates a second attempt to set an item's priority
	ErrAlreadyClassified = errors.New("item already classified")
	// ErrMultilineRecord indicates a sink record containing a line terminator
	ErrMultilineRecord = errors.New("record contains a line terminator")
	// ErrSinkClosed indicates the sink queue was closed and has no records left
	ErrSinkClosed = errors.New("sink closed")
	// ErrInvalidTopology indicates the orchestrator was given an unusable topology
	ErrInvalidTopology = errors.New("invalid topology")
	// ErrNotRunning indicates an operation on an orchestrator that is not running
	ErrNotRunning = errors.New("pipeline is not running")
)

// interruptedError keeps the cancellation cause next to ErrInterrupted
type interruptedError struct {
	cause error
}

func (e *interruptedError) Error() string {
	if e.cause == nil {
		return ErrInterrupted.Error()
	}
	return fmt.Sprintf("%s: %v", ErrInterrupted, e.cause)
}

func (e *interruptedError) Is(target error) bool {
	return target == ErrInterrupted
}

func (e *interruptedError) Unwrap() error {
	return e.cause
}

// Interrupted wraps a context error so that errors.Is matches both
// ErrInterrupted and the original cause.
func Interrupted(cause error) error {
	return &interruptedError{cause: cause}
}

// IsInterrupted checks if an error came from a cancelled blocking call
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// StageError represents a failure inside a pipeline stage
type StageError struct {
	// Stage is the name of the stage where the error occurred
	Stage string
	// Operation is what the stage was doing
	Operation string
	// Cause is the underlying error
	Cause error
	// Context contains error context information
	Context map[string]interface{}
}

// Error implements the error interface
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed in %s: %v", e.Stage, e.Operation, e.Cause)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError creates a new stage error
func NewStageError(stage, operation string, cause error) *StageError {
	return &StageError{
		Stage:     stage,
		Operation: operation,
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// WithContext adds error context
func (e *StageError) WithContext(key string, value interface{}) *StageError {
	e.Context[key] = value
	return e
}

// DurableWriteError reports that the sink lost access to its log
type DurableWriteError struct {
	// Path of the durable log
	Path string
	// Op is "open", "write", "sync" or "close"
	Op string
	// Err is the underlying I/O error
	Err error
}

func (e *DurableWriteError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrDurableWrite, e.Op, e.Path, e.Err)
}

func (e *DurableWriteError) Is(target error) bool {
	return target == ErrDurableWrite
}

func (e *DurableWriteError) Unwrap() error {
	return e.Err
}

// ShutdownTimeoutError names the stage that ignored cancellation
type ShutdownTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("%s: stage %s did not stop within %s", ErrShutdownTimeout, e.Stage, e.Timeout)
}

func (e *ShutdownTimeoutError) Is(target error) bool {
	return target == ErrShutdownTimeout
}
