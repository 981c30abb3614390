package docker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/xec/internal/adapter/local"
	"github.com/danmuck/xec/internal/engine"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Runner executes a docker CLI invocation and reports its outcome.
// The default runner spawns the local docker binary; tests and the
// remote-docker adapter substitute their own transport.
type Runner interface {
	Run(ctx context.Context, argv []string, cmd engine.Command) (*engine.ExecutionResult, error)
}

type localRunner struct {
	exec *local.Adapter
}

func (r localRunner) Run(ctx context.Context, argv []string, cmd engine.Command) (*engine.ExecutionResult, error) {
	return r.exec.Execute(ctx, engine.Command{
		Command: "docker",
		Args:    argv,
		Stdin:   cmd.Stdin,
		Timeout: cmd.Timeout,
		Target:  engine.LocalTarget{},
	})
}

// Adapter executes commands inside containers on the local Docker daemon.
type Adapter struct {
	runner Runner

	mu        sync.Mutex
	ephemeral map[string]bool
}

var _ engine.Adapter = (*Adapter)(nil)

func New() *Adapter {
	return NewWithRunner(localRunner{exec: local.New()})
}

func NewWithRunner(r Runner) *Adapter {
	return &Adapter{
		runner:    r,
		ephemeral: make(map[string]bool),
	}
}

// IsAvailable probes the daemon; any non-zero exit or transport failure
// reports unavailable.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	res, err := a.runner.Run(ctx, VersionArgs(), engine.Command{})
	return err == nil && res.OK()
}

func (a *Adapter) Execute(ctx context.Context, cmd engine.Command) (*engine.ExecutionResult, error) {
	t, ok := cmd.Target.(engine.DockerTarget)
	if !ok {
		return nil, &engine.ConfigError{Reason: fmt.Sprintf("docker adapter got %T target", cmd.Target)}
	}

	container, err := a.ensureContainer(ctx, t, cmd)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res, rerr := a.runner.Run(ctx, ExecArgs(t, container, cmd), cmd)
	if rerr != nil {
		return res, rerr
	}
	return restamp(res, cmd, started), nil
}

// ensureContainer resolves the exec target: the named container when it
// exists, otherwise a freshly created ephemeral one under auto-create.
func (a *Adapter) ensureContainer(ctx context.Context, t engine.DockerTarget, cmd engine.Command) (string, error) {
	if t.AutoCreate == nil || !t.AutoCreate.Enabled {
		return t.Container, nil
	}

	probe := engine.Command{Timeout: cmd.Timeout}
	res, err := a.runner.Run(ctx, ProbeArgs(t.Container), probe)
	if err != nil {
		return "", &engine.DockerError{Container: t.Container, Op: "inspect", Err: err}
	}
	if res.OK() {
		return t.Container, nil
	}

	name := EphemeralName()
	created, err := a.runner.Run(ctx, CreateArgs(*t.AutoCreate, name), probe)
	if err != nil {
		return "", &engine.DockerError{Container: name, Op: "run", Err: err}
	}
	if !created.OK() {
		return "", &engine.DockerError{Container: name, Op: "run", Err: fmt.Errorf("exit %d: %s", created.ExitCode, created.Stderr)}
	}

	a.mu.Lock()
	a.ephemeral[name] = true
	a.mu.Unlock()
	log.Debug().Str("container", name).Str("image", t.AutoCreate.Image).Msg("ephemeral container created")
	return name, nil
}

// Ephemeral returns the container names this adapter created and still
// tracks for cleanup.
func (a *Adapter) Ephemeral() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.ephemeral))
	for name := range a.ephemeral {
		out = append(out, name)
	}
	return out
}

// Dispose stops every ephemeral container this adapter created.
// Cleanup is best-effort: a failed stop is logged and the rest proceed.
func (a *Adapter) Dispose(ctx context.Context) error {
	a.mu.Lock()
	names := make([]string, 0, len(a.ephemeral))
	for name := range a.ephemeral {
		names = append(names, name)
	}
	a.ephemeral = make(map[string]bool)
	a.mu.Unlock()

	for _, name := range names {
		res, err := a.runner.Run(ctx, StopArgs(name), engine.Command{Timeout: 15 * time.Second})
		if err != nil || !res.OK() {
			log.Warn().Str("container", name).Err(err).Msg("ephemeral container stop failed")
		}
	}
	return nil
}

// EphemeralName mints a unique auto-create container name.
func EphemeralName() string {
	return "xec-temp-" + uuid.NewString()[:8]
}

// restamp rebinds a runner-level result to the caller's command so the
// record names what the user ran, not the docker CLI line.
func restamp(res *engine.ExecutionResult, cmd engine.Command, started time.Time) *engine.ExecutionResult {
	out := *res
	out.Command = cmd.Line()
	out.Adapter = engine.TypeDocker
	out.StartedAt = started
	out.FinishedAt = started.Add(res.Duration)
	return &out
}
