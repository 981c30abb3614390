package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCommand  = errors.New("engine: invalid command")
	ErrInvalidTarget   = errors.New("engine: invalid target")
	ErrAdapterNotFound = errors.New("engine: adapter not found")
	ErrEngineDisposed  = errors.New("engine: disposed")
)

func wrapInvalidCommand(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, reason)
}

// CommandError reports a non-zero exit from the target command itself.
// The full result is attached so callers never lose the attempt record.
type CommandError struct {
	Result *ExecutionResult
}

func (e *CommandError) Error() string {
	if e.Result.Signal != "" {
		return fmt.Sprintf("engine: command %q terminated by %s", e.Result.Command, e.Result.Signal)
	}
	return fmt.Sprintf("engine: command %q exited %d", e.Result.Command, e.Result.ExitCode)
}

// RetryError reports an exhausted or abandoned retry loop. Results holds
// every attempt in order; Last duplicates the final entry for convenience.
type RetryError struct {
	Attempts int
	Results  []*ExecutionResult
	Last     *ExecutionResult
	Err      error
}

func (e *RetryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("engine: failed after %d attempt(s), last exit %d", e.Attempts, e.Last.ExitCode)
}

func (e *RetryError) Unwrap() error { return e.Err }

// DockerError reports a container/daemon-level failure distinct from the
// target command's own exit code.
type DockerError struct {
	Container string
	Op        string
	Err       error
}

func (e *DockerError) Error() string {
	return fmt.Sprintf("engine: docker %s failed for container %q: %v", e.Op, e.Container, e.Err)
}

func (e *DockerError) Unwrap() error { return e.Err }

// ConnectError reports a transport-level connection failure.
type ConnectError struct {
	Key string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("engine: connect %s: %v", e.Key, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ConfigError reports a malformed target or pre-flight validation failure.
type ConfigError struct {
	Reason string
	Issues []string
}

func (e *ConfigError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("engine: configuration invalid: %s", e.Reason)
	}
	return fmt.Sprintf("engine: configuration invalid: %s: %v", e.Reason, e.Issues)
}

// TimeoutError reports a single attempt exceeding Command.Timeout.
type TimeoutError struct {
	Adapter string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine: %s command timed out after %s", e.Adapter, e.Timeout)
}
