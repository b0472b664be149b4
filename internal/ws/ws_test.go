package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/engine"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

type fixture struct {
	hub    *transport.Hub
	bridge *Bridge
	url    string
	cfg    config.BridgeConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default().Bridge
	cfg.WriteTimeout = config.Duration(2 * time.Second)

	hub := transport.NewHub(nil)
	bridge := NewBridge(hub, cfg)
	router := gin.New()
	router.GET("/stream", bridge.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		bridge.Close()
		srv.Close()
		hub.Close()
	})
	return &fixture{
		hub:    hub,
		bridge: bridge,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		cfg:    cfg,
	}
}

func (f *fixture) dial(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, f.url, f.cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func startLoop(t *testing.T, name string) *runloop.Loop {
	t.Helper()
	loop := runloop.New(name, nil)
	loop.Start()
	t.Cleanup(loop.Stop)
	return loop
}

func TestAckErrorKeepsTransportErrors(t *testing.T) {
	assert.NoError(t, ackError(ackFor(1, nil)))

	for _, sentinel := range []error{
		transport.ErrUnknownTarget,
		transport.ErrNoRoute,
		transport.ErrNotAttached,
		transport.ErrClosed,
	} {
		err := ackError(ackFor(1, fmt.Errorf("send: %w", sentinel)))
		assert.ErrorIs(t, err, sentinel)
	}

	err := ackError(ackFor(1, errors.New("boom")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDecodeFrameRejectsUntypedFrames(t *testing.T) {
	_, err := decodeFrame([]byte(`{"seq":3}`))
	assert.Error(t, err)
	_, err = decodeFrame([]byte(`not json`))
	assert.Error(t, err)

	f, err := decodeFrame([]byte(`{"type":"bind","seq":3,"channel":"c","target":4,"handle":4}`))
	require.NoError(t, err)
	assert.Equal(t, FrameBind, f.Type)
	assert.Equal(t, types.WindowHandle(4), f.Target)
}

func TestClientReceivesWelcome(t *testing.T) {
	fx := newFixture(t)
	c := fx.dial(t)

	assert.NotEmpty(t, c.ID())
	require.Eventually(t, func() bool {
		return len(fx.bridge.Connections()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{c.ID()}, fx.bridge.Connections())
}

func TestCallsCrossTheBridge(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	local := dispatch.New(9, fx.hub, startLoop(t, "local"))
	require.NoError(t, fx.hub.Attach(9, local.Receive))
	local.SetHandler("test/double", func(ctx context.Context, call *dispatch.Call) (any, error) {
		var n int
		if err := call.Decode(&n); err != nil {
			return nil, err
		}
		return n * 2, nil
	})
	require.NoError(t, fx.hub.Bind("test/double", 9, 9))

	c := fx.dial(t)
	remote := dispatch.New(5, c, startLoop(t, "remote"))
	require.NoError(t, c.Attach(5, remote.Receive))
	assert.True(t, fx.hub.Live(5))

	got, err := dispatch.CallAs[int](ctx, remote, "test/double", 9, "double", 21)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	remote.SetHandler("test/echo", func(ctx context.Context, call *dispatch.Call) (any, error) {
		return call.Method, nil
	})
	require.NoError(t, c.Bind("test/echo", 5, 5))
	method, err := dispatch.CallAs[string](ctx, local, "test/echo", 5, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "ping", method)
}

func TestRoutingErrorsCrossTheBridge(t *testing.T) {
	fx := newFixture(t)
	c := fx.dial(t)

	err := c.Bind("test/channel", 5, 5)
	assert.ErrorIs(t, err, transport.ErrNotAttached)

	require.NoError(t, c.Attach(5, func(*transport.Envelope) {}))
	err = c.Send(&transport.Envelope{Kind: transport.KindCall, ID: 1, Channel: "test/channel", Source: 5, Target: 99})
	assert.ErrorIs(t, err, transport.ErrUnknownTarget)

	err = c.Send(&transport.Envelope{Kind: transport.KindCall, ID: 2, Channel: "test/channel", Source: 5, Target: 5})
	assert.ErrorIs(t, err, transport.ErrNoRoute)

	err = c.Send(&transport.Envelope{Kind: transport.KindCall, ID: 3, Channel: "test/channel", Source: 6, Target: 5})
	assert.ErrorIs(t, err, transport.ErrNotAttached, "source must belong to the connection")

	err = c.Attach(types.ShellHandle, func(*transport.Envelope) {})
	assert.Error(t, err)
	assert.False(t, fx.hub.Live(types.ShellHandle))
}

func TestEnvelopesReachRemoteEndpoint(t *testing.T) {
	fx := newFixture(t)
	c := fx.dial(t)

	var mu sync.Mutex
	var got []*transport.Envelope
	require.NoError(t, c.Attach(5, func(env *transport.Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	}))
	require.NoError(t, c.Bind(types.ChannelWindowEvents, 5, 5))

	for i := 0; i < 3; i++ {
		require.NoError(t, fx.hub.Broadcast(&transport.Envelope{
			Kind:    transport.KindEvent,
			Channel: types.ChannelWindowEvents,
			Source:  types.ShellHandle,
			Target:  5,
			Method:  fmt.Sprintf("event-%d", i),
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, env := range got {
		assert.Equal(t, fmt.Sprintf("event-%d", i), env.Method, "delivered in order")
	}
}

func TestDisconnectDetachesEndpoints(t *testing.T) {
	fx := newFixture(t)
	c := fx.dial(t)
	require.NoError(t, c.Attach(5, func(*transport.Envelope) {}))
	require.NoError(t, c.Attach(6, func(*transport.Envelope) {}))
	require.NoError(t, c.Bind("test/channel", 5, 6))

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		return !fx.hub.Live(5) && !fx.hub.Live(6)
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(fx.bridge.Connections()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, c.Send(&transport.Envelope{Source: 5, Target: 6}), transport.ErrClosed)
}

func TestDetachOnlyAffectsOwnedEndpoints(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.hub.Attach(7, func(*transport.Envelope) {}))

	c := fx.dial(t)
	c.Detach(7)
	assert.True(t, fx.hub.Live(7))
}

func TestLaunchWithoutHost(t *testing.T) {
	fx := newFixture(t)
	fx.dial(t)

	err := fx.bridge.Launch(context.Background(), shell.LaunchSpec{Handle: 1, Parent: types.InvalidWindowHandle})
	assert.ErrorIs(t, err, ErrNoHost)
	assert.False(t, fx.bridge.HasHost())
}

func TestRemoteHostRunsWindows(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := shell.New(fx.hub, config.Default().Shell, shell.WithLauncher(fx.bridge))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	c := fx.dial(t)
	contexts := make(chan *engine.Context, 4)
	require.NoError(t, c.Host(shell.LauncherFunc(func(_ context.Context, spec shell.LaunchSpec) error {
		ec, err := engine.Start(c, engine.Spec{
			Handle:   spec.Handle,
			Parent:   spec.Parent,
			InitData: spec.InitData,
		}, engine.Options{Logger: zap.NewNop(), Timeout: 2 * time.Second})
		if err != nil {
			return err
		}
		contexts <- ec
		return nil
	})))
	assert.True(t, fx.bridge.HasHost())

	handle, err := s.CreateWindow(ctx, types.InvalidWindowHandle, map[string]string{"app": "remote"})
	require.NoError(t, err)

	var ec *engine.Context
	select {
	case ec = <-contexts:
	case <-ctx.Done():
		t.Fatal("context was not launched")
	}
	assert.Equal(t, handle, ec.Handle())
	assert.JSONEq(t, `{"app":"remote"}`, string(ec.Window().InitData()))

	require.NoError(t, ec.Window().WaitUntilInitialized(ctx))
	require.NoError(t, ec.Run(ctx, func(ctx context.Context) error {
		return ec.Window().SetTitle(ctx, "Remote")
	}))
	info, ok := s.Window(handle)
	require.True(t, ok)
	assert.Equal(t, "Remote", info.Title)

	require.NoError(t, ec.Run(ctx, func(ctx context.Context) error {
		return ec.Window().Close(ctx)
	}))
	select {
	case <-ec.Done():
	case <-ctx.Done():
		t.Fatal("context did not stop after close")
	}
	require.Eventually(t, func() bool {
		_, ok := s.Window(handle)
		return !ok && !fx.hub.Live(handle)
	}, 2*time.Second, 10*time.Millisecond)
}
