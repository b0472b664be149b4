package event

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
)

// Gate is a one-shot signal: it fires exactly once, optionally carrying an
// error, and can be queried or awaited any time afterwards.
type Gate struct {
	mu    sync.Mutex
	fired bool
	err   error
	ch    chan struct{}
}

// NewGate returns an unfired gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Fire opens the gate. Only the first call has an effect; it reports whether
// this call fired the gate.
func (g *Gate) Fire(err error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fired {
		return false
	}
	g.fired = true
	g.err = err
	close(g.ch)
	return true
}

// Fired reports whether the gate has fired.
func (g *Gate) Fired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

// Err returns the error the gate fired with.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Done is closed once the gate fires.
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}

// Wait blocks until the gate fires or ctx ends, yielding to the run loop when
// called from one.
func (g *Gate) Wait(ctx context.Context) error {
	if err := runloop.Await(ctx, g.ch); err != nil {
		return err
	}
	return g.Err()
}
