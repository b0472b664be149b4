package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/engine"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/runloop"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell/shelltest"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/window"
)

func TestStartRejectsInvalidHandle(t *testing.T) {
	hub := transport.NewHub(zap.NewNop())
	defer hub.Close()

	for _, handle := range []types.WindowHandle{types.InvalidWindowHandle, types.ShellHandle} {
		_, err := engine.Start(hub, engine.Spec{Handle: handle}, engine.Options{})
		assert.Error(t, err, handle.String())
	}
	assert.Empty(t, hub.Endpoints())
}

func TestStartAttachesAndBinds(t *testing.T) {
	hub := transport.NewHub(zap.NewNop())
	defer hub.Close()

	c, err := engine.Start(hub, engine.Spec{Handle: 3, Parent: 1}, engine.Options{})
	require.NoError(t, err)
	defer c.Stop()

	assert.Equal(t, types.WindowHandle(3), c.Handle())
	assert.True(t, hub.Live(3))
	assert.Equal(t, types.WindowHandle(1), c.Window().Parent())
	assert.NotNil(t, c.Manager().GetWindow(1), "parent is referenced")
	assert.Equal(t, window.StateInitialized, c.Manager().GetWindow(1).State())
	assert.Equal(t, types.WindowHandle(3), c.Dispatcher().Self())
}

func TestEntryRunsOnLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	onLoop := make(chan bool, 1)
	entry := func(ctx context.Context, c *engine.Context) {
		onLoop <- runloop.FromContext(ctx) != nil
	}
	h := shelltest.New(t, shelltest.WithEntry(entry))
	_, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	select {
	case ok := <-onLoop:
		assert.True(t, ok)
	case <-ctx.Done():
		t.Fatal("entry did not run")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub := transport.NewHub(zap.NewNop())
	defer hub.Close()

	c, err := engine.Start(hub, engine.Spec{Handle: 1, Parent: types.InvalidWindowHandle}, engine.Options{})
	require.NoError(t, err)

	c.Stop()
	c.Stop()
	<-c.Done()
	assert.False(t, hub.Live(1))
	assert.ErrorIs(t, c.Run(ctx, func(context.Context) error { return nil }), transport.ErrClosed)
}

func TestContextStopsWhenWindowCloses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := shelltest.New(t)
	c, err := h.CreateRoot(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, c.Run(ctx, func(ctx context.Context) error {
		return c.Window().Close(ctx)
	}))
	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("context still running")
	}
	assert.False(t, h.Hub.Live(c.Handle()))
	assert.Equal(t, window.StateClosed, c.Window().State())
}
