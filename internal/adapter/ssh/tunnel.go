package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Tunnel is one local→remote TCP forward riding a pooled SSH connection.
// The tunnel holds a lease on its connection, so the pool cannot evict
// the transport underneath an open forward.
type Tunnel struct {
	id   string
	spec engine.TunnelSpec

	client   Client
	listener net.Listener
	done     chan struct{}
	onClosed func(*Tunnel)

	mu   sync.Mutex
	open bool
}

var _ engine.Tunnel = (*Tunnel)(nil)

func openTunnel(client Client, spec engine.TunnelSpec, onClosed func(*Tunnel)) (*Tunnel, error) {
	if spec.LocalHost == "" {
		spec.LocalHost = "127.0.0.1"
	}
	if spec.RemoteHost == "" || spec.RemotePort <= 0 {
		return nil, fmt.Errorf("ssh: tunnel spec missing remote endpoint")
	}
	addr := net.JoinHostPort(spec.LocalHost, strconv.Itoa(spec.LocalPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh: tunnel listen %s: %w", addr, err)
	}
	spec.LocalPort = listener.Addr().(*net.TCPAddr).Port

	t := &Tunnel{
		id:       uuid.NewString(),
		spec:     spec,
		client:   client,
		listener: listener,
		done:     make(chan struct{}),
		onClosed: onClosed,
		open:     true,
	}
	go t.acceptLoop()
	observability.TunnelOpened()
	return t, nil
}

func (t *Tunnel) ID() string { return t.id }

// Spec returns the resolved spec; LocalPort carries the OS-assigned port
// when the caller requested port 0.
func (t *Tunnel) Spec() engine.TunnelSpec { return t.spec }

func (t *Tunnel) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Close tears down the local listener and forward. Idempotent: closing
// an already-closed tunnel is a no-op. The closed notification fires
// before Close returns.
func (t *Tunnel) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	t.mu.Unlock()

	close(t.done)
	if err := t.listener.Close(); err != nil {
		log.Debug().Str("tunnel", t.id).Err(err).Msg("tunnel listener close failed")
	}
	observability.TunnelClosed()
	if t.onClosed != nil {
		t.onClosed(t)
	}
	return nil
}

func (t *Tunnel) acceptLoop() {
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	remoteAddr := net.JoinHostPort(t.spec.RemoteHost, strconv.Itoa(t.spec.RemotePort))
	remote, err := t.client.Dial("tcp", remoteAddr)
	if err != nil {
		log.Warn().Str("tunnel", t.id).Str("remote", remoteAddr).Err(err).Msg("tunnel forward dial failed")
		_ = local.Close()
		return
	}

	done := make(chan struct{}, 2)
	pipe := func(dst io.Writer, src io.Reader) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(remote, local)
	go pipe(local, remote)

	select {
	case <-done:
	case <-t.done:
	}
	_ = local.Close()
	_ = remote.Close()
}
