package local

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/xec/internal/engine"
)

// Adapter executes commands on the local host via os/exec.
type Adapter struct{}

var _ engine.Adapter = (*Adapter)(nil)

func New() *Adapter {
	return &Adapter{}
}

// IsAvailable probes for a usable shell; local execution needs nothing else.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath("sh")
	return err == nil
}

func (a *Adapter) Execute(ctx context.Context, cmd engine.Command) (*engine.ExecutionResult, error) {
	name := cmd.Command
	args := cmd.Args
	if cmd.Shell {
		name = "/bin/sh"
		args = []string{"-c", cmd.Line()}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, name, args...)
	proc.Dir = cmd.Cwd
	proc.Env = mergedEnv(cmd.Env)
	if cmd.Stdin != "" {
		proc.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	started := time.Now()
	err := proc.Run()

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		res := engine.NewResult(cmd, engine.TypeLocal, started, stdout.String(), stderr.String(), -1, "SIGKILL")
		return res, &engine.TimeoutError{Adapter: engine.TypeLocal, Timeout: cmd.Timeout}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil {
		return engine.NewResult(cmd, engine.TypeLocal, started, stdout.String(), stderr.String(), 0, ""), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		signal := ""
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code = -1
			signal = signalName(ws.Signal())
		}
		return engine.NewResult(cmd, engine.TypeLocal, started, stdout.String(), stderr.String(), code, signal), nil
	}

	// Spawn failures (missing binary, bad cwd) map to exit 127 so the
	// outcome stays inspectable under nothrow.
	msg := stderr.String()
	if msg == "" {
		msg = err.Error()
	}
	return engine.NewResult(cmd, engine.TypeLocal, started, stdout.String(), msg, 127, ""), nil
}

func (a *Adapter) Dispose(ctx context.Context) error {
	return nil
}

func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	default:
		return strings.ToUpper(sig.String())
	}
}
