package ssh

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/observability"
	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"
)

var (
	ErrPoolClosed   = errors.New("ssh: pool closed")
	ErrNoConnection = errors.New("ssh: no established connection for target, execute a command first")
)

// Client is the slice of *ssh.Client the pool and tunnels depend on,
// narrowed so tests can substitute a fake transport.
type Client interface {
	NewSession() (*xssh.Session, error)
	Dial(network, addr string) (net.Conn, error)
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Wait() error
	Close() error
}

// DialFunc establishes one SSH client for a pool key.
type DialFunc func(ctx context.Context) (Client, error)

// PoolConfig tunes the shared connection pool.
type PoolConfig struct {
	MaxConnections    int
	IdleTimeout       time.Duration
	KeepAlive         bool
	KeepAliveInterval time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:    10,
		IdleTimeout:       60 * time.Second,
		KeepAlive:         true,
		KeepAliveInterval: 30 * time.Second,
	}
}

type entryState int

const (
	stateConnecting entryState = iota
	stateReady
)

type poolEntry struct {
	key       string
	state     entryState
	ready     chan struct{} // closed once the dial settles either way
	dialErr   error
	client    Client
	refCount  int
	lastUsed  time.Time
	idleTimer *time.Timer
	keepStop  chan struct{}
}

// Conn is a caller's lease on one pooled connection. Release it when the
// exec or tunnel using it is done.
type Conn struct {
	pool  *Pool
	entry *poolEntry
}

func (c *Conn) Client() Client { return c.entry.client }
func (c *Conn) Key() string    { return c.entry.key }

// Release returns the lease; the last release arms the idle timer.
func (c *Conn) Release() { c.pool.Release(c) }

// Pool owns live SSH connections per host identity. Entries are only
// inserted after a successful dial, so a connect failure never leaves a
// half-initialized connection behind.
type Pool struct {
	mu      sync.Mutex
	cfg     PoolConfig
	entries map[string]*poolEntry
	waiters []chan struct{}
	closed  bool
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultPoolConfig().IdleTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultPoolConfig().KeepAliveInterval
	}
	return &Pool{
		cfg:     cfg,
		entries: make(map[string]*poolEntry),
	}
}

// Acquire leases the connection for key, dialing on first use.
//
// Full-pool policy: a new-key acquire first tries to evict the
// least-recently-released idle connection; when every connection is in
// use it queues FIFO until a release or eviction frees a slot. In-use
// connections are never evicted.
func (p *Pool) Acquire(ctx context.Context, key string, dial DialFunc) (*Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if e, ok := p.entries[key]; ok {
			if e.state == stateConnecting {
				ready := e.ready
				p.mu.Unlock()
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-ready:
				}
				continue
			}
			e.refCount++
			p.cancelIdleLocked(e)
			p.mu.Unlock()
			return &Conn{pool: p, entry: e}, nil
		}

		if p.cfg.MaxConnections > 0 && len(p.entries) >= p.cfg.MaxConnections {
			if !p.evictIdleLocked() {
				ch := make(chan struct{})
				p.waiters = append(p.waiters, ch)
				p.mu.Unlock()
				observability.PoolWaiterQueued()
				err := p.waitForSlot(ctx, ch)
				observability.PoolWaiterReleased()
				if err != nil {
					return nil, err
				}
				continue
			}
		}

		e := &poolEntry{
			key:   key,
			state: stateConnecting,
			ready: make(chan struct{}),
		}
		p.entries[key] = e
		p.mu.Unlock()

		client, err := dial(ctx)

		p.mu.Lock()
		if err != nil {
			delete(p.entries, key)
			e.dialErr = err
			close(e.ready)
			p.wakeOneLocked()
			p.mu.Unlock()
			return nil, &engine.ConnectError{Key: key, Err: err}
		}
		if p.closed {
			delete(p.entries, key)
			close(e.ready)
			p.mu.Unlock()
			_ = client.Close()
			return nil, ErrPoolClosed
		}
		e.client = client
		e.state = stateReady
		e.refCount = 1
		e.lastUsed = time.Now()
		close(e.ready)
		if p.cfg.KeepAlive {
			e.keepStop = make(chan struct{})
			go keepAlive(client, p.cfg.KeepAliveInterval, e.keepStop)
		}
		p.mu.Unlock()
		observability.PoolConnectionOpened()
		return &Conn{pool: p, entry: e}, nil
	}
}

// AcquireExisting leases an already-ready connection for key without
// dialing. Used by tunnel creation, which must not connect implicitly.
func (p *Pool) AcquireExisting(key string) (*Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok || e.state != stateReady {
		return nil, false
	}
	e.refCount++
	p.cancelIdleLocked(e)
	return &Conn{pool: p, entry: e}, true
}

// Release drops one lease. Releasing beyond the acquire count clamps at
// zero. The last release arms the idle-eviction timer and lets a queued
// acquire evict this entry if the pool is full.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	e := c.entry
	if e.refCount > 0 {
		e.refCount--
	}
	if e.refCount == 0 && !p.closed {
		if _, live := p.entries[e.key]; live {
			e.lastUsed = time.Now()
			p.armIdleLocked(e)
			p.wakeOneLocked()
		}
	}
	p.mu.Unlock()
}

// Len reports live (ready or connecting) entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Dispose closes every connection regardless of refCount, cancels all
// timers, and fails queued waiters. It never reports an error.
func (p *Pool) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	doomed := make([]*poolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		doomed = append(doomed, e)
	}
	p.entries = make(map[string]*poolEntry)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	for _, e := range doomed {
		p.closeEntry(e)
	}
	return nil
}

func (p *Pool) waitForSlot(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		removed := false
		for i, w := range p.waiters {
			if w == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			// Our wakeup already fired; hand the slot to the next waiter.
			p.wakeOneLocked()
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *Pool) wakeOneLocked() {
	if len(p.waiters) == 0 {
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	close(ch)
}

// evictIdleLocked frees one slot by closing the least-recently-released
// idle entry. Returns false when every entry is in use.
func (p *Pool) evictIdleLocked() bool {
	var victim *poolEntry
	for _, e := range p.entries {
		if e.state != stateReady || e.refCount != 0 {
			continue
		}
		if victim == nil || e.lastUsed.Before(victim.lastUsed) {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	delete(p.entries, victim.key)
	go p.closeEntry(victim)
	return true
}

func (p *Pool) armIdleLocked(e *poolEntry) {
	p.cancelIdleLocked(e)
	e.idleTimer = time.AfterFunc(p.cfg.IdleTimeout, func() {
		p.expire(e)
	})
}

func (p *Pool) cancelIdleLocked(e *poolEntry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

func (p *Pool) expire(e *poolEntry) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	live, ok := p.entries[e.key]
	if !ok || live != e || e.refCount != 0 {
		p.mu.Unlock()
		return
	}
	delete(p.entries, e.key)
	p.wakeOneLocked()
	p.mu.Unlock()

	log.Debug().Str("key", e.key).Msg("idle ssh connection evicted")
	p.closeEntry(e)
}

func (p *Pool) closeEntry(e *poolEntry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	if e.keepStop != nil {
		select {
		case <-e.keepStop:
		default:
			close(e.keepStop)
		}
	}
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			log.Debug().Str("key", e.key).Err(err).Msg("ssh connection close failed")
		}
		observability.PoolConnectionClosed()
	}
}

func keepAlive(client Client, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}
