package remotedocker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/testutil/testlog"
)

// fakeRemote records the docker CLI lines sent over the hop and scripts
// their outcomes by leading argv verb.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []engine.Command
	inspect int
	runFail bool
}

func (r *fakeRemote) Execute(ctx context.Context, cmd engine.Command) (*engine.ExecutionResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	exit := 0
	switch cmd.Args[0] {
	case "container":
		exit = r.inspect
	case "run":
		if r.runFail {
			exit = 1
		}
	}
	return engine.NewResult(cmd, engine.TypeSSH, time.Now(), "", "", exit, ""), nil
}

func (r *fakeRemote) Tunnel(ctx context.Context, target engine.Target, spec engine.TunnelSpec) (engine.Tunnel, error) {
	r.mu.Lock()
	r.calls = append(r.calls, engine.Command{Command: "tunnel", Target: target})
	r.mu.Unlock()
	return nil, errors.New("fake remote has no tunnels")
}

func (r *fakeRemote) IsAvailable(ctx context.Context) bool { return true }

func (r *fakeRemote) verbs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		if c.Command == "tunnel" {
			out[i] = "tunnel"
			continue
		}
		out[i] = c.Args[0]
	}
	return out
}

func testTarget() engine.RemoteDockerTarget {
	return engine.RemoteDockerTarget{
		SSH:    engine.SSHTarget{Host: "edge-1", Username: "deploy", Password: "p"},
		Docker: engine.DockerTarget{Container: "app"},
	}
}

func TestExecuteSendsDockerExecOverSSH(t *testing.T) {
	testlog.Start(t)
	remote := &fakeRemote{}
	a := New(remote)

	cmd := engine.Command{
		Command: "uname",
		Args:    []string{"-a"},
		Target:  testTarget(),
	}
	res, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK() {
		t.Fatalf("result: %+v", res)
	}
	if res.Adapter != engine.TypeRemoteDocker {
		t.Fatalf("adapter=%q", res.Adapter)
	}
	if res.Command != "uname -a" {
		t.Fatalf("command=%q, want the user's line", res.Command)
	}

	remote.mu.Lock()
	sent := remote.calls[0]
	remote.mu.Unlock()
	if sent.Command != "docker" {
		t.Fatalf("remote command=%q, want docker", sent.Command)
	}
	line := strings.Join(sent.Args, " ")
	if !strings.HasPrefix(line, "exec ") || !strings.Contains(line, " app uname -a") {
		t.Fatalf("remote argv=%q", line)
	}
	sshT, ok := sent.Target.(engine.SSHTarget)
	if !ok || sshT.Host != "edge-1" {
		t.Fatalf("remote target=%+v", sent.Target)
	}
}

func TestExecuteAutoCreateOnRemoteHost(t *testing.T) {
	testlog.Start(t)
	remote := &fakeRemote{inspect: 1}
	a := New(remote)

	target := testTarget()
	target.Docker.AutoCreate = &engine.AutoCreate{Enabled: true, Image: "alpine"}
	if _, err := a.Execute(context.Background(), engine.Command{Command: "true", Target: target}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verbs := remote.verbs(); len(verbs) != 3 || verbs[0] != "container" || verbs[1] != "run" || verbs[2] != "exec" {
		t.Fatalf("calls=%v, want probe, run, exec", verbs)
	}
	if len(a.Ephemeral()) != 1 {
		t.Fatalf("ephemeral=%v", a.Ephemeral())
	}
}

func TestExecuteAutoCreateRunFailure(t *testing.T) {
	testlog.Start(t)
	remote := &fakeRemote{inspect: 1, runFail: true}
	a := New(remote)

	target := testTarget()
	target.Docker.AutoCreate = &engine.AutoCreate{Enabled: true, Image: "alpine"}
	_, err := a.Execute(context.Background(), engine.Command{Command: "true", Target: target})
	var dockerErr *engine.DockerError
	if !errors.As(err, &dockerErr) {
		t.Fatalf("want DockerError, got %v", err)
	}
	if len(a.Ephemeral()) != 0 {
		t.Fatalf("failed create tracked as ephemeral")
	}
}

func TestExecuteWrongTargetType(t *testing.T) {
	testlog.Start(t)
	a := New(&fakeRemote{})
	_, err := a.Execute(context.Background(), engine.Command{
		Command: "ls",
		Target:  engine.DockerTarget{Container: "app"},
	})
	var cfgErr *engine.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigError, got %v", err)
	}
}

func TestTunnelDelegatesToSSHHop(t *testing.T) {
	testlog.Start(t)
	remote := &fakeRemote{}
	a := New(remote)

	_, err := a.Tunnel(context.Background(), testTarget(), engine.TunnelSpec{
		RemoteHost: "db",
		RemotePort: 5432,
	})
	if err == nil {
		t.Fatalf("fake remote should refuse tunnels")
	}
	if verbs := remote.verbs(); len(verbs) != 1 || verbs[0] != "tunnel" {
		t.Fatalf("calls=%v", verbs)
	}
}

func TestDisposeStopsRemoteEphemerals(t *testing.T) {
	testlog.Start(t)
	remote := &fakeRemote{inspect: 1}
	a := New(remote)

	target := testTarget()
	target.Docker.AutoCreate = &engine.AutoCreate{Enabled: true, Image: "alpine"}
	if _, err := a.Execute(context.Background(), engine.Command{Command: "true", Target: target}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Dispose(context.Background()); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	verbs := remote.verbs()
	if verbs[len(verbs)-1] != "stop" {
		t.Fatalf("calls=%v, want trailing stop", verbs)
	}
	if len(a.Ephemeral()) != 0 {
		t.Fatalf("dispose left tracked containers")
	}
}
