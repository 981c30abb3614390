package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/xec/internal/observability"
	"github.com/rs/zerolog/log"
)

// registry is the adapter table shared by an engine and every engine
// derived from it via WithRetry.
type registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
	disposed bool
}

func (r *registry) lookup(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ad, ok := r.adapters[name]
	return ad, ok
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Engine routes a Command to the adapter named by its target type,
// applying the bound or per-command retry policy and normalizing
// returned-vs-raised failure per NoThrow.
type Engine struct {
	reg     *registry
	policy  *RetryPolicy
	sleeper Sleeper
	rng     *rand.Rand
}

// New returns an empty engine; adapters register explicitly. The engine
// holds no process-wide state, so independent engines never interfere.
func New() *Engine {
	return &Engine{
		reg:     &registry{adapters: make(map[string]Adapter)},
		sleeper: timerSleeper{},
	}
}

// RegisterAdapter stores ad under name, matched against Target.Type().
// Re-registering a name replaces the previous adapter.
func (e *Engine) RegisterAdapter(name string, ad Adapter) {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	if _, exists := e.reg.adapters[name]; !exists {
		e.reg.order = append(e.reg.order, name)
	}
	e.reg.adapters[name] = ad
}

// Adapter returns the adapter registered under name.
func (e *Engine) Adapter(name string) (Adapter, bool) {
	return e.reg.lookup(name)
}

// WithRetry returns a derived engine sharing this engine's adapters whose
// Execute always applies p when the command carries no policy of its own.
func (e *Engine) WithRetry(p RetryPolicy) *Engine {
	return &Engine{
		reg:     e.reg,
		policy:  &p,
		sleeper: e.sleeper,
		rng:     e.rng,
	}
}

// SetSleeper swaps the between-attempt wait, for deterministic tests.
func (e *Engine) SetSleeper(s Sleeper) {
	if s != nil {
		e.sleeper = s
	}
}

// SetRand pins the jitter source, for deterministic tests.
func (e *Engine) SetRand(rng *rand.Rand) {
	e.rng = rng
}

// Execute dispatches cmd to its target's adapter.
//
// Failure normalization: a non-zero exit with NoThrow unset raises
// CommandError (or RetryError when a policy ran); with NoThrow set the
// last result is returned as-is and callers inspect ExitCode. Transport
// errors propagate typed regardless of exit semantics, except that a
// NoThrow command whose failed attempt still produced a result returns
// that result.
func (e *Engine) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	e.reg.mu.RLock()
	disposed := e.reg.disposed
	e.reg.mu.RUnlock()
	if disposed {
		return nil, ErrEngineDisposed
	}

	name := cmd.Target.Type()
	ad, ok := e.reg.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrAdapterNotFound, name, strings.Join(e.reg.names(), ", "))
	}

	policy := cmd.Retry
	if policy == nil {
		policy = e.policy
	}

	var (
		res *ExecutionResult
		err error
	)
	if policy != nil {
		res, err = e.executeWithRetry(ctx, name, ad, cmd, *policy)
	} else {
		res, err = ad.Execute(ctx, cmd)
		res, err = normalize(cmd, res, err)
	}
	e.recordExecution(name, res, err)
	return res, err
}

// Dispose releases every registered adapter in reverse registration
// order, so composed adapters clean up before the transports they ride
// on. It never fails: individual adapter errors are logged and cleanup
// of the rest proceeds.
func (e *Engine) Dispose(ctx context.Context) error {
	e.reg.mu.Lock()
	if e.reg.disposed {
		e.reg.mu.Unlock()
		return nil
	}
	e.reg.disposed = true
	names := make([]string, len(e.reg.order))
	copy(names, e.reg.order)
	adapters := make(map[string]Adapter, len(e.reg.adapters))
	for name, ad := range e.reg.adapters {
		adapters[name] = ad
	}
	e.reg.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if err := adapters[name].Dispose(ctx); err != nil {
			log.Warn().Str("adapter", name).Err(err).Msg("adapter dispose failed")
		}
	}
	return nil
}

func normalize(cmd Command, res *ExecutionResult, err error) (*ExecutionResult, error) {
	if err != nil {
		if cmd.NoThrow && res != nil {
			return res, nil
		}
		return res, err
	}
	if res.ExitCode != 0 && !cmd.NoThrow {
		return res, &CommandError{Result: res}
	}
	return res, nil
}

func (e *Engine) recordExecution(adapter string, res *ExecutionResult, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res != nil && res.ExitCode != 0:
		outcome = "nonzero"
	}
	if res != nil {
		observability.RecordExecution(adapter, outcome, res.Duration)
		return
	}
	observability.RecordExecution(adapter, outcome, 0)
}

func (e *Engine) recordRetry(adapter string) {
	observability.RecordRetryAttempt(adapter)
}
