package engine

import "time"

// ExecutionResult is the immutable outcome record of one command attempt.
// ExitCode is meaningful when the process terminated normally; Signal is
// set instead when it was terminated by a signal.
type ExecutionResult struct {
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ExitCode   int           `json:"exit_code"`
	Signal     string        `json:"signal,omitempty"`
	Command    string        `json:"command"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Adapter    string        `json:"adapter"`
}

// OK reports whether the command completed with a zero exit code.
func (r *ExecutionResult) OK() bool {
	return r != nil && r.ExitCode == 0 && r.Signal == ""
}

// NewResult stamps a completed attempt. FinishedAt/Duration derive from now.
func NewResult(cmd Command, adapter string, startedAt time.Time, stdout, stderr string, exitCode int, signal string) *ExecutionResult {
	finished := time.Now()
	return &ExecutionResult{
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   exitCode,
		Signal:     signal,
		Command:    cmd.Line(),
		Duration:   finished.Sub(startedAt),
		StartedAt:  startedAt,
		FinishedAt: finished,
		Adapter:    adapter,
	}
}

// SynthesizeResult builds a result from a failure that produced none,
// so retry predicates always have a result to inspect.
func SynthesizeResult(cmd Command, adapter string, err error) *ExecutionResult {
	now := time.Now()
	return &ExecutionResult{
		Stderr:     err.Error(),
		ExitCode:   -1,
		Command:    cmd.Line(),
		StartedAt:  now,
		FinishedAt: now,
		Adapter:    adapter,
	}
}
