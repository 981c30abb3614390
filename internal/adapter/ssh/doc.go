// Package ssh executes commands on remote hosts over SSH.
//
// Ownership boundary:
// - reference-counted connection pool keyed by user@host:port
// - local→remote port-forward tunnels and their lifecycle events
// - remote command-line composition and session exec
//
// Each exec gets its own session channel on a pooled connection, so
// concurrent commands against one host multiplex without corrupting
// each other's stdio. The pool is constructor-injected per adapter;
// nothing here is process-global.
package ssh
