package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

const (
	testChannel = "test/channel"
	otherChan   = "test/other"
)

type endpoint struct {
	handle     types.WindowHandle
	loop       *runloop.Loop
	dispatcher *Dispatcher
}

func newEndpoint(t *testing.T, hub *transport.Hub, handle types.WindowHandle, opts ...Option) *endpoint {
	t.Helper()
	loop := runloop.New(handle.String(), nil)
	loop.Start()
	t.Cleanup(loop.Stop)

	d := New(handle, hub, loop, opts...)
	require.NoError(t, hub.Attach(handle, d.Receive))
	return &endpoint{handle: handle, loop: loop, dispatcher: d}
}

func (e *endpoint) serve(t *testing.T, hub *transport.Hub, channel string, h Handler) {
	t.Helper()
	e.dispatcher.SetHandler(channel, h)
	require.NoError(t, hub.Bind(channel, e.handle, e.handle))
}

type sizeArgs struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func TestInvokeRoundTrip(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1)
	callee := newEndpoint(t, hub, 2)

	callee.serve(t, hub, testChannel, func(ctx context.Context, call *Call) (any, error) {
		var args sizeArgs
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		assert.Equal(t, types.WindowHandle(1), call.Source)
		assert.False(t, call.Event)
		return args.Width * args.Height, nil
	})

	area, err := CallAs[int](context.Background(), caller.dispatcher, testChannel, 2, "area", sizeArgs{Width: 8, Height: 6})
	require.NoError(t, err)
	assert.Equal(t, 48, area)
	assert.Equal(t, 0, caller.dispatcher.Pending())
}

func TestInvokeNoHandler(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1)
	callee := newEndpoint(t, hub, 2)
	callee.serve(t, hub, otherChan, func(context.Context, *Call) (any, error) { return nil, nil })

	t.Run("channel not bound", func(t *testing.T) {
		_, err := caller.dispatcher.Invoke(context.Background(), testChannel, 2, "m", nil)
		assert.ErrorIs(t, err, ErrNoHandler)
	})

	t.Run("bound but handler removed", func(t *testing.T) {
		callee.dispatcher.SetHandler(otherChan, nil)
		_, err := caller.dispatcher.Invoke(context.Background(), otherChan, 2, "m", nil)
		assert.ErrorIs(t, err, ErrNoHandler)
		assert.Equal(t, KindNoHandler, KindOf(err))
	})
}

func TestInvokeInvalidTarget(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1)

	start := time.Now()
	_, err := caller.dispatcher.Invoke(context.Background(), testChannel, 42, "m", nil)
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Less(t, time.Since(start), time.Second)

	_, err = caller.dispatcher.Invoke(context.Background(), testChannel, types.InvalidWindowHandle, "m", nil)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Attach(endpoint types.WindowHandle, recv transport.Receiver) error {
	return m.Called(endpoint, recv).Error(0)
}

func (m *mockTransport) Detach(endpoint types.WindowHandle) { m.Called(endpoint) }

func (m *mockTransport) Bind(channel string, target, endpoint types.WindowHandle) error {
	return m.Called(channel, target, endpoint).Error(0)
}

func (m *mockTransport) Unbind(channel string, target types.WindowHandle) { m.Called(channel, target) }

func (m *mockTransport) Send(env *transport.Envelope) error {
	return m.Called(env).Error(0)
}

func (m *mockTransport) Broadcast(env *transport.Envelope) error {
	return m.Called(env).Error(0)
}

func TestSerializationFailureSendsNothing(t *testing.T) {
	tr := &mockTransport{}
	d := New(1, tr, runloop.New("mock", nil))

	_, err := d.Invoke(context.Background(), testChannel, 2, "m", make(chan int))
	assert.ErrorIs(t, err, ErrSerialization)

	err = d.Post(context.Background(), testChannel, 2, "m", func() {})
	assert.ErrorIs(t, err, ErrSerialization)

	tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestCanceledContextSendsNothing(t *testing.T) {
	tr := &mockTransport{}
	d := New(1, tr, runloop.New("mock", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Invoke(ctx, testChannel, 2, "create", nil)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, d.Pending())
	tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestReplyFromStoppedLoopDoesNotBlockReceive(t *testing.T) {
	tr := &mockTransport{}
	sent := make(chan *transport.Envelope, 1)
	unblock := make(chan struct{})
	tr.On("Send", mock.MatchedBy(func(env *transport.Envelope) bool {
		return env.Kind == transport.KindReply
	})).Run(func(args mock.Arguments) {
		sent <- args.Get(0).(*transport.Envelope)
		<-unblock
	}).Return(nil).Once()

	loop := runloop.New("stopped", nil)
	loop.Stop()
	d := New(1, tr, loop)

	returned := make(chan struct{})
	go func() {
		d.Receive(&transport.Envelope{Kind: transport.KindCall, ID: 7, Channel: testChannel, Source: 2, Target: 1, Method: "m"})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Receive blocked on the reply send")
	}

	env := <-sent
	close(unblock)
	assert.Equal(t, uint64(7), env.ID)
	assert.Equal(t, types.WindowHandle(2), env.Target)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(KindInvalidTarget), env.Error.Kind)
}

func TestTransportFailure(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Send", mock.MatchedBy(func(env *transport.Envelope) bool {
		return env.Kind == transport.KindCall && env.Method == "m"
	})).Return(errors.New("pipe closed")).Once()

	d := New(1, tr, runloop.New("mock", nil))
	_, err := d.Invoke(context.Background(), testChannel, 2, "m", nil)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 0, d.Pending())
	tr.AssertExpectations(t)
}

func TestHandlerErrors(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1)
	callee := newEndpoint(t, hub, 2)
	callee.serve(t, hub, testChannel, func(_ context.Context, call *Call) (any, error) {
		switch call.Method {
		case "fail":
			return nil, errors.New("disk on fire")
		case "unavailable":
			return nil, NewError(KindNotAvailable, "not on this platform")
		case "panic":
			panic("boom")
		case "unencodable":
			return make(chan int), nil
		}
		return nil, nil
	})

	tests := []struct {
		method  string
		want    error
		message string
	}{
		{"fail", ErrHandler, "disk on fire"},
		{"unavailable", ErrNotAvailable, "not on this platform"},
		{"panic", ErrHandler, "boom"},
		{"unencodable", ErrSerialization, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := caller.dispatcher.Invoke(context.Background(), testChannel, 2, tt.method, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestCancelAbandonsPendingCall(t *testing.T) {
	hub := transport.NewHub(nil)
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	caller := newEndpoint(t, hub, 1, WithMetrics(metrics))
	callee := newEndpoint(t, hub, 2)

	release := make(chan struct{})
	entered := make(chan struct{})
	callee.serve(t, hub, testChannel, func(context.Context, *Call) (any, error) {
		close(entered)
		<-release
		return "late", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := caller.dispatcher.Invoke(ctx, testChannel, 2, "slow", nil)
		errCh <- err
	}()

	<-entered
	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, caller.dispatcher.Pending())

	close(release)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DiscardedReplies) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.DispatchPending))
}

func TestLateReplyReachesHook(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1)
	callee := newEndpoint(t, hub, 2)

	replies := make(chan Reply, 1)
	callee.serve(t, hub, testChannel, func(_ context.Context, call *Call) (any, error) {
		replies <- call.Defer()
		return nil, nil
	})

	late := make(chan string, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ctx = OnLateReply(ctx, func(result json.RawMessage) {
		v, err := Decode[string](result)
		assert.NoError(t, err)
		late <- v
	})

	_, err := caller.dispatcher.Invoke(ctx, testChannel, 2, "allocate", nil)
	assert.ErrorIs(t, err, ErrCanceled)

	reply := <-replies
	reply("resource-1", nil)
	select {
	case v := <-late:
		assert.Equal(t, "resource-1", v)
	case <-time.After(time.Second):
		t.Fatal("late reply not handed to the hook")
	}
}

func TestLateErrorReplySkipsHook(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1)
	callee := newEndpoint(t, hub, 2)

	replies := make(chan Reply, 1)
	callee.serve(t, hub, testChannel, func(_ context.Context, call *Call) (any, error) {
		replies <- call.Defer()
		return nil, nil
	})

	called := make(chan struct{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ctx = OnLateReply(ctx, func(json.RawMessage) { called <- struct{}{} })

	_, err := caller.dispatcher.Invoke(ctx, testChannel, 2, "allocate", nil)
	require.ErrorIs(t, err, ErrCanceled)

	(<-replies)(nil, errors.New("out of resources"))
	select {
	case <-called:
		t.Fatal("hook ran for an error reply")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDefaultTimeout(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1, WithTimeout(20*time.Millisecond))
	callee := newEndpoint(t, hub, 2)
	release := make(chan struct{})
	defer close(release)
	callee.serve(t, hub, testChannel, func(context.Context, *Call) (any, error) {
		<-release
		return nil, nil
	})

	_, err := caller.dispatcher.Invoke(context.Background(), testChannel, 2, "slow", nil)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNestedCallsDoNotDeadlock(t *testing.T) {
	hub := transport.NewHub(nil)
	a := newEndpoint(t, hub, 1)
	b := newEndpoint(t, hub, 2)

	a.serve(t, hub, testChannel, func(ctx context.Context, call *Call) (any, error) {
		switch call.Method {
		case "start":
			// Runs on a's loop; b calls back into a before replying.
			return CallAs[string](ctx, a.dispatcher, testChannel, 2, "relay", nil)
		case "echo":
			return "from a", nil
		}
		return nil, nil
	})
	b.serve(t, hub, testChannel, func(ctx context.Context, call *Call) (any, error) {
		return CallAs[string](ctx, b.dispatcher, testChannel, 1, "echo", nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := CallAs[string](ctx, b.dispatcher, testChannel, 1, "start", nil)
	require.NoError(t, err)
	assert.Equal(t, "from a", got)
}

func TestBroadcastAndPost(t *testing.T) {
	hub := transport.NewHub(nil)
	shell := newEndpoint(t, hub, types.ShellHandle)
	w1 := newEndpoint(t, hub, 1)
	w2 := newEndpoint(t, hub, 2)

	var mu sync.Mutex
	seen := map[types.WindowHandle][]string{}
	record := func(self types.WindowHandle) Handler {
		return func(_ context.Context, call *Call) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			assert.True(t, call.Event)
			seen[self] = append(seen[self], call.Method)
			return nil, nil
		}
	}
	w1.serve(t, hub, testChannel, record(1))
	w2.serve(t, hub, testChannel, record(2))

	require.NoError(t, shell.dispatcher.Broadcast(testChannel, 1, "visibilityChanged", true))
	require.NoError(t, shell.dispatcher.Post(context.Background(), testChannel, 2, "poke", nil))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen[1]) == 1 && len(seen[2]) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"visibilityChanged", "poke"}, seen[2])
}

func TestCloseFailsPendingCalls(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1)
	callee := newEndpoint(t, hub, 2)
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	callee.serve(t, hub, testChannel, func(context.Context, *Call) (any, error) {
		close(entered)
		<-release
		return nil, nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := caller.dispatcher.Invoke(context.Background(), testChannel, 2, "slow", nil)
		errCh <- err
	}()
	<-entered
	caller.dispatcher.Close()

	assert.ErrorIs(t, <-errCh, ErrTransport)
	_, err := caller.dispatcher.Invoke(context.Background(), testChannel, 2, "again", nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestErrorMatching(t *testing.T) {
	err := &Error{Kind: KindNoHandler, Channel: "c", Method: "m", Message: "nothing"}
	assert.ErrorIs(t, err, ErrNoHandler)
	assert.NotErrorIs(t, err, ErrCanceled)
	assert.Equal(t, "NoHandler c.m: nothing", err.Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestDeferredReply(t *testing.T) {
	hub := transport.NewHub(nil)
	caller := newEndpoint(t, hub, 1, WithTimeout(20*time.Millisecond))
	callee := newEndpoint(t, hub, 2)

	replies := make(chan Reply, 1)
	callee.serve(t, hub, testChannel, func(_ context.Context, call *Call) (any, error) {
		replies <- call.Defer()
		return "ignored", nil
	})

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		// Outlives the default timeout because the caller waits on the user.
		v, err := CallAs[string](NoTimeout(context.Background()), caller.dispatcher, testChannel, 2, "modal", nil)
		done <- result{v, err}
	}()

	reply := <-replies
	time.Sleep(40 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("deferred call completed before reply")
	default:
	}

	reply("chosen", nil)
	reply("twice", nil)
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "chosen", got.value)
}
