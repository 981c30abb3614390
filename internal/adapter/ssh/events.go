package ssh

// Tunnel lifecycle event names. Each transition is published exactly
// once, under its transport-prefixed name; there are no unprefixed
// aliases, so listeners match on these constants alone.
const (
	EventTunnelCreated = "ssh:tunnel-created"
	EventTunnelClosed  = "ssh:tunnel-closed"
)

// TunnelEvent is the payload delivered to subscribed listeners.
type TunnelEvent struct {
	Name       string
	LocalPort  int
	RemoteHost string
	RemotePort int
}

// TunnelListener receives tunnel lifecycle notifications. Listeners run
// synchronously: a created event is observable before Tunnel returns and
// a closed event before Close returns.
type TunnelListener func(TunnelEvent)

// Subscribe registers fn for tunnel lifecycle events.
func (a *Adapter) Subscribe(fn TunnelListener) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

func (a *Adapter) emit(ev TunnelEvent) {
	a.mu.Lock()
	listeners := make([]TunnelListener, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
