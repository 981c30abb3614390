package engine

import "context"

// Adapter translates a Command into a concrete execution on one backend.
//
// Execute returns a result for any attempt that ran the target command,
// including non-zero exits; transport/daemon failures return a typed
// error instead. Dispose releases everything the adapter owns and is
// best-effort: per-resource cleanup failures are logged and swallowed.
type Adapter interface {
	IsAvailable(ctx context.Context) bool
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)
	Dispose(ctx context.Context) error
}

// TunnelSpec describes a requested local→remote TCP forward.
// LocalPort 0 asks the OS for an ephemeral port.
type TunnelSpec struct {
	LocalHost  string
	LocalPort  int
	RemoteHost string
	RemotePort int
}

// Tunnel is one live local→remote forward. Close is idempotent.
type Tunnel interface {
	Spec() TunnelSpec
	IsOpen() bool
	Close(ctx context.Context) error
}

// Tunneler is implemented by adapters with a network hop.
type Tunneler interface {
	Tunnel(ctx context.Context, target Target, spec TunnelSpec) (Tunnel, error)
}
