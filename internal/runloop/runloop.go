// Package runloop provides the single logical thread of control that backs an
// execution context.
//
// Every incoming call and event for a context is posted to its Loop and
// started in post order. A task holds the loop's token while it runs, so only
// one task executes at a time. Code running on the loop that has to wait for
// an RPC reply or a gate uses Await with the context it was handed. Await
// hands the token back, letting queued tasks run, and takes it again once
// the wait is over. Waiting tasks resume as soon as their signal arrives and
// the current holder yields, independent of the tasks started meanwhile.
//
// Contexts issued by a Loop must not be handed to other goroutines; use
// Detach before doing so.
package runloop

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Loop is a FIFO task queue whose tasks take turns holding a single token.
type Loop struct {
	name   string
	logger *zap.Logger

	// token is full while a task runs.
	token chan struct{}
	tasks sync.WaitGroup

	mu      sync.Mutex
	queue   []func(context.Context)
	stopped bool
	cancel  context.CancelFunc

	wake     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once
}

type loopKey struct{}

// New creates a stopped-until-started loop.
func New(name string, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		name:   name,
		logger: logger,
		token:  make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Name returns the loop name used in logs.
func (l *Loop) Name() string {
	return l.name
}

// Post queues task. It never blocks. Returns false once the loop is stopped.
func (l *Loop) Post(task func(ctx context.Context)) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start() {
	go l.Run(context.Background())
}

// Run starts queued tasks until Stop is called or ctx ends, and returns once
// the started tasks have finished. Only one Run may be active for a loop.
func (l *Loop) Run(ctx context.Context) {
	started := false
	l.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(l.done)
	defer l.tasks.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	loopCtx := context.WithValue(ctx, loopKey{}, l)
	for {
		select {
		case l.token <- struct{}{}:
		case <-l.stopCh:
			return
		case <-ctx.Done():
			l.Stop()
			return
		}
		if task, ok := l.next(); ok {
			l.tasks.Add(1)
			go l.run(loopCtx, task)
			continue
		}
		<-l.token
		select {
		case <-l.wake:
		case <-l.stopCh:
			return
		case <-ctx.Done():
			l.Stop()
			return
		}
	}
}

// Stop prevents further posts and makes Run return once running tasks finish.
// Queued tasks are dropped and the context handed to tasks is canceled.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		dropped := len(l.queue)
		l.queue = nil
		cancel := l.cancel
		l.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(l.stopCh)
		if dropped > 0 {
			l.logger.Debug("loop stopped with queued tasks",
				zap.String("loop", l.name),
				zap.Int("dropped", dropped),
			)
		}
	})
}

// Stopped reports whether Stop was called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (func(context.Context), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// run executes task while holding the token, which the caller acquired.
func (l *Loop) run(ctx context.Context, task func(context.Context)) {
	defer l.tasks.Done()
	defer func() { <-l.token }()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked",
				zap.String("loop", l.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	task(ctx)
}

// yield releases the token until done is closed or ctx ends, then takes it
// back. The caller must hold the token.
func (l *Loop) yield(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	default:
	}
	<-l.token
	defer func() { l.token <- struct{}{} }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		default:
		}
		return ctx.Err()
	}
}

// FromContext returns the loop that issued ctx, or nil.
func FromContext(ctx context.Context) *Loop {
	l, _ := ctx.Value(loopKey{}).(*Loop)
	return l
}

// Detach strips the loop marker so ctx can be used from another goroutine.
func Detach(ctx context.Context) context.Context {
	if FromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, loopKey{}, (*Loop)(nil))
}

// Await blocks until done is closed or ctx ends. When ctx was issued by a
// loop, other tasks of the loop run in the meantime.
func Await(ctx context.Context, done <-chan struct{}) error {
	if l := FromContext(ctx); l != nil {
		return l.yield(ctx, done)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
