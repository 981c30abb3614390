// Package remotedocker executes commands in containers reached through
// an SSH hop: docker argv construction from the docker package, remote
// execution through the ssh adapter.
package remotedocker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/xec/internal/adapter/docker"
	"github.com/danmuck/xec/internal/engine"
	"github.com/rs/zerolog/log"
)

// Remote is the slice of the ssh adapter this package depends on.
type Remote interface {
	Execute(ctx context.Context, cmd engine.Command) (*engine.ExecutionResult, error)
	Tunnel(ctx context.Context, target engine.Target, spec engine.TunnelSpec) (engine.Tunnel, error)
	IsAvailable(ctx context.Context) bool
}

// Adapter runs docker commands on a remote host. It does not own the
// ssh adapter handed to it; disposing this adapter cleans up the
// ephemeral containers it created and nothing else.
type Adapter struct {
	remote Remote

	mu        sync.Mutex
	ephemeral map[string]engine.SSHTarget
}

var (
	_ engine.Adapter  = (*Adapter)(nil)
	_ engine.Tunneler = (*Adapter)(nil)
)

func New(remote Remote) *Adapter {
	return &Adapter{
		remote:    remote,
		ephemeral: make(map[string]engine.SSHTarget),
	}
}

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.remote.IsAvailable(ctx)
}

func (a *Adapter) Execute(ctx context.Context, cmd engine.Command) (*engine.ExecutionResult, error) {
	t, ok := cmd.Target.(engine.RemoteDockerTarget)
	if !ok {
		return nil, &engine.ConfigError{Reason: fmt.Sprintf("remote-docker adapter got %T target", cmd.Target)}
	}

	container, err := a.ensureContainer(ctx, t)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res, rerr := a.runRemote(ctx, t.SSH, docker.ExecArgs(t.Docker, container, cmd), cmd.Stdin, cmd.Timeout)
	if rerr != nil {
		return res, rerr
	}
	out := *res
	out.Command = cmd.Line()
	out.Adapter = engine.TypeRemoteDocker
	out.StartedAt = started
	out.FinishedAt = started.Add(res.Duration)
	return &out, nil
}

func (a *Adapter) ensureContainer(ctx context.Context, t engine.RemoteDockerTarget) (string, error) {
	auto := t.Docker.AutoCreate
	if auto == nil || !auto.Enabled {
		return t.Docker.Container, nil
	}

	probe, err := a.runRemote(ctx, t.SSH, docker.ProbeArgs(t.Docker.Container), "", 0)
	if err != nil {
		return "", &engine.DockerError{Container: t.Docker.Container, Op: "inspect", Err: err}
	}
	if probe.OK() {
		return t.Docker.Container, nil
	}

	name := docker.EphemeralName()
	created, err := a.runRemote(ctx, t.SSH, docker.CreateArgs(*auto, name), "", 0)
	if err != nil {
		return "", &engine.DockerError{Container: name, Op: "run", Err: err}
	}
	if !created.OK() {
		return "", &engine.DockerError{Container: name, Op: "run", Err: fmt.Errorf("exit %d: %s", created.ExitCode, created.Stderr)}
	}

	a.mu.Lock()
	a.ephemeral[name] = t.SSH
	a.mu.Unlock()
	log.Debug().Str("container", name).Str("host", t.SSH.Host).Msg("remote ephemeral container created")
	return name, nil
}

func (a *Adapter) runRemote(ctx context.Context, ssh engine.SSHTarget, argv []string, stdin string, timeout time.Duration) (*engine.ExecutionResult, error) {
	return a.remote.Execute(ctx, engine.Command{
		Command: "docker",
		Args:    argv,
		Stdin:   stdin,
		Timeout: timeout,
		Target:  ssh,
	})
}

// Tunnel delegates to the SSH hop.
func (a *Adapter) Tunnel(ctx context.Context, target engine.Target, spec engine.TunnelSpec) (engine.Tunnel, error) {
	t, ok := target.(engine.RemoteDockerTarget)
	if !ok {
		return nil, &engine.ConfigError{Reason: fmt.Sprintf("remote-docker tunnel got %T target", target)}
	}
	return a.remote.Tunnel(ctx, t.SSH, spec)
}

// Ephemeral returns the remote container names still tracked for cleanup.
func (a *Adapter) Ephemeral() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.ephemeral))
	for name := range a.ephemeral {
		out = append(out, name)
	}
	return out
}

// Dispose stops every remote ephemeral container this adapter created.
// Best-effort: a failed stop is logged and the rest proceed. The ssh
// adapter itself is left alone; its owner disposes it.
func (a *Adapter) Dispose(ctx context.Context) error {
	a.mu.Lock()
	doomed := make(map[string]engine.SSHTarget, len(a.ephemeral))
	for name, ssh := range a.ephemeral {
		doomed[name] = ssh
	}
	a.ephemeral = make(map[string]engine.SSHTarget)
	a.mu.Unlock()

	for name, ssh := range doomed {
		res, err := a.runRemote(ctx, ssh, docker.StopArgs(name), "", 15*time.Second)
		if err != nil || !res.OK() {
			log.Warn().Str("container", name).Str("host", ssh.Host).Err(err).Msg("remote ephemeral container stop failed")
		}
	}
	return nil
}
