// Package engine owns the unified command-execution contract.
//
// Ownership boundary:
// - Command / ExecutionResult boundary envelopes
// - target tagged union (local, ssh, docker, remote-docker)
// - adapter registry and dispatch
// - retry/backoff loop and typed failure carriers
//
// Adapters live under internal/adapter and implement the Adapter
// interface; the engine never imports them. Wiring happens in cmd/.
package engine
