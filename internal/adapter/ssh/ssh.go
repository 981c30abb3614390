package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/shellq"
	"github.com/danmuck/xec/internal/sshkeys"
	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"
)

const defaultConnectTimeout = 10 * time.Second

// Dialer establishes one SSH client for a target.
type Dialer func(ctx context.Context, t engine.SSHTarget) (Client, error)

// Adapter executes commands on remote hosts over pooled SSH connections.
type Adapter struct {
	pool *Pool
	dial Dialer

	mu          sync.Mutex
	tunnels     map[string]*Tunnel
	tunnelConns map[string]*Conn
	watched     map[Client]map[string]*Tunnel
	listeners   []TunnelListener
}

var (
	_ engine.Adapter  = (*Adapter)(nil)
	_ engine.Tunneler = (*Adapter)(nil)
)

func New(cfg PoolConfig) *Adapter {
	return NewWithDialer(NewPool(cfg), DialTarget)
}

func NewWithDialer(pool *Pool, dial Dialer) *Adapter {
	return &Adapter{
		pool:        pool,
		dial:        dial,
		tunnels:     make(map[string]*Tunnel),
		tunnelConns: make(map[string]*Conn),
		watched:     make(map[Client]map[string]*Tunnel),
	}
}

// Pool exposes the adapter's connection pool for wiring and inspection.
func (a *Adapter) Pool() *Pool { return a.pool }

// IsAvailable never dials; the transport itself has no local dependency.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return true
}

func (a *Adapter) Execute(ctx context.Context, cmd engine.Command) (*engine.ExecutionResult, error) {
	t, ok := cmd.Target.(engine.SSHTarget)
	if !ok {
		return nil, &engine.ConfigError{Reason: fmt.Sprintf("ssh adapter got %T target", cmd.Target)}
	}
	if report := sshkeys.ValidateSSHOptions(t); !report.IsValid {
		return nil, &engine.ConfigError{Reason: "ssh target rejected", Issues: report.Issues}
	}

	conn, err := a.pool.Acquire(ctx, t.Key(), func(ctx context.Context) (Client, error) {
		return a.dial(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	return a.runSession(ctx, conn.Client(), t.Key(), cmd)
}

func (a *Adapter) runSession(ctx context.Context, client Client, key string, cmd engine.Command) (*engine.ExecutionResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, &engine.ConnectError{Key: key, Err: fmt.Errorf("open session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	line := RemoteCommand(cmd)
	started := time.Now()
	if err := session.Start(line); err != nil {
		return nil, &engine.ConnectError{Key: key, Err: fmt.Errorf("start remote command: %w", err)}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- session.Wait() }()

	var timeoutCh <-chan time.Time
	if cmd.Timeout > 0 {
		timer := time.NewTimer(cmd.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-waitCh:
		return sessionResult(cmd, key, started, &stdout, &stderr, err)
	case <-timeoutCh:
		_ = session.Signal(xssh.SIGKILL)
		res := engine.NewResult(cmd, engine.TypeSSH, started, stdout.String(), stderr.String(), -1, "SIGKILL")
		return res, &engine.TimeoutError{Adapter: engine.TypeSSH, Timeout: cmd.Timeout}
	case <-ctx.Done():
		_ = session.Signal(xssh.SIGKILL)
		return nil, ctx.Err()
	}
}

func sessionResult(cmd engine.Command, key string, started time.Time, stdout, stderr *bytes.Buffer, err error) (*engine.ExecutionResult, error) {
	if err == nil {
		return engine.NewResult(cmd, engine.TypeSSH, started, stdout.String(), stderr.String(), 0, ""), nil
	}
	var exitErr *xssh.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitStatus()
		signal := ""
		if exitErr.Signal() != "" {
			code = -1
			signal = "SIG" + exitErr.Signal()
		}
		return engine.NewResult(cmd, engine.TypeSSH, started, stdout.String(), stderr.String(), code, signal), nil
	}
	var missing *xssh.ExitMissingError
	if errors.As(err, &missing) {
		// Remote closed the channel without an exit status.
		return engine.NewResult(cmd, engine.TypeSSH, started, stdout.String(), stderr.String(), -1, ""), nil
	}
	return nil, &engine.ConnectError{Key: key, Err: err}
}

// Tunnel opens a local→remote forward over the target's pooled
// connection. It fails fast when no connection is established yet
// rather than dialing implicitly.
func (a *Adapter) Tunnel(ctx context.Context, target engine.Target, spec engine.TunnelSpec) (engine.Tunnel, error) {
	t, ok := target.(engine.SSHTarget)
	if !ok {
		return nil, &engine.ConfigError{Reason: fmt.Sprintf("ssh tunnel got %T target", target)}
	}
	conn, ok := a.pool.AcquireExisting(t.Key())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, t.Key())
	}

	tun, err := openTunnel(conn.Client(), spec, a.tunnelClosed)
	if err != nil {
		conn.Release()
		return nil, err
	}

	a.mu.Lock()
	a.tunnels[tun.id] = tun
	a.tunnelConns[tun.id] = conn
	set, watching := a.watched[tun.client]
	if !watching {
		set = make(map[string]*Tunnel)
		a.watched[tun.client] = set
	}
	set[tun.id] = tun
	a.mu.Unlock()
	if !watching {
		go a.watchTransport(tun.client)
	}

	resolved := tun.Spec()
	log.Info().
		Int("local_port", resolved.LocalPort).
		Str("remote_host", resolved.RemoteHost).
		Int("remote_port", resolved.RemotePort).
		Msg("tunnel created")
	a.emit(TunnelEvent{
		Name:       EventTunnelCreated,
		LocalPort:  resolved.LocalPort,
		RemoteHost: resolved.RemoteHost,
		RemotePort: resolved.RemotePort,
	})
	return tun, nil
}

// watchTransport force-closes every tunnel riding client once the
// underlying SSH connection drops, so IsOpen never reports a dead
// forward as live. One watcher runs per distinct transport for the
// life of the connection, however many tunnels come and go over it.
func (a *Adapter) watchTransport(client Client) {
	_ = client.Wait()

	a.mu.Lock()
	set := a.watched[client]
	delete(a.watched, client)
	doomed := make([]*Tunnel, 0, len(set))
	for _, t := range set {
		doomed = append(doomed, t)
	}
	a.mu.Unlock()

	for _, t := range doomed {
		_ = t.Close(context.Background())
	}
}

func (a *Adapter) tunnelClosed(t *Tunnel) {
	a.mu.Lock()
	conn := a.tunnelConns[t.id]
	delete(a.tunnels, t.id)
	delete(a.tunnelConns, t.id)
	if set, ok := a.watched[t.client]; ok {
		delete(set, t.id)
	}
	a.mu.Unlock()

	if conn != nil {
		conn.Release()
	}
	spec := t.Spec()
	a.emit(TunnelEvent{
		Name:       EventTunnelClosed,
		LocalPort:  spec.LocalPort,
		RemoteHost: spec.RemoteHost,
		RemotePort: spec.RemotePort,
	})
}

// ActiveTunnels reports how many tunnels this adapter currently owns.
func (a *Adapter) ActiveTunnels() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tunnels)
}

// Dispose closes every active tunnel, then the pool. One bad tunnel
// cannot block cleanup of the rest.
func (a *Adapter) Dispose(ctx context.Context) error {
	a.mu.Lock()
	tunnels := make([]*Tunnel, 0, len(a.tunnels))
	for _, t := range a.tunnels {
		tunnels = append(tunnels, t)
	}
	a.mu.Unlock()

	for _, t := range tunnels {
		if err := t.Close(ctx); err != nil {
			log.Warn().Str("tunnel", t.id).Err(err).Msg("tunnel close failed during dispose")
		}
	}
	return a.pool.Dispose(ctx)
}

// RemoteCommand composes the single command line sent over the session:
// optional cwd prefix, env assignments, then the command itself, shell
// wrapped when requested.
func RemoteCommand(cmd engine.Command) string {
	var parts []string
	if cmd.Cwd != "" {
		parts = append(parts, "cd "+shellq.Quote(cmd.Cwd)+" &&")
	}
	if len(cmd.Env) > 0 {
		env := []string{"env"}
		keys := make([]string, 0, len(cmd.Env))
		for k := range cmd.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, shellq.Quote(k+"="+cmd.Env[k]))
		}
		parts = append(parts, strings.Join(env, " "))
	}
	if cmd.Shell {
		parts = append(parts, "/bin/sh -c "+shellq.Quote(cmd.Line()))
	} else {
		argv := append([]string{cmd.Command}, cmd.Args...)
		parts = append(parts, shellq.Join(argv))
	}
	return strings.Join(parts, " ")
}

// DialTarget is the production dialer: TCP connect then SSH handshake,
// honoring ctx for the TCP stage and the target's connect timeout.
func DialTarget(ctx context.Context, t engine.SSHTarget) (Client, error) {
	auth, err := authMethods(t)
	if err != nil {
		return nil, err
	}
	timeout := t.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	cfg := &xssh.ClientConfig{
		User:            t.Username,
		Auth:            auth,
		HostKeyCallback: xssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, err
	}
	conn, chans, reqs, err := xssh.NewClientConn(raw, t.Addr(), cfg)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return xssh.NewClient(conn, chans, reqs), nil
}

func authMethods(t engine.SSHTarget) ([]xssh.AuthMethod, error) {
	if t.Password != "" {
		return []xssh.AuthMethod{xssh.Password(t.Password)}, nil
	}
	key := t.PrivateKey
	if len(key) == 0 && t.PrivateKeyPath != "" {
		data, err := os.ReadFile(t.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("ssh: read private key: %w", err)
		}
		key = data
	}
	var (
		signer xssh.Signer
		err    error
	)
	if t.Passphrase != "" {
		signer, err = xssh.ParsePrivateKeyWithPassphrase(key, []byte(t.Passphrase))
	} else {
		signer, err = xssh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, fmt.Errorf("ssh: parse private key: %w", err)
	}
	return []xssh.AuthMethod{xssh.PublicKeys(signer)}, nil
}
