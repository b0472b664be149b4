package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	var bus Bus[bool]
	var got []bool

	unsubscribe := bus.Subscribe(func(v bool) { got = append(got, v) })
	bus.Publish(true)
	bus.Publish(false)
	unsubscribe()
	unsubscribe()
	bus.Publish(true)

	assert.Equal(t, []bool{true, false}, got)
	assert.Equal(t, 0, bus.Len())
}

func TestBusSubscriberOrder(t *testing.T) {
	var bus Bus[int]
	var order []string
	bus.Subscribe(func(int) { order = append(order, "first") })
	bus.Subscribe(func(int) { order = append(order, "second") })

	bus.Publish(1)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestGateFiresOnce(t *testing.T) {
	g := NewGate()
	assert.False(t, g.Fired())

	assert.True(t, g.Fire(nil))
	assert.False(t, g.Fire(errors.New("late")))
	assert.True(t, g.Fired())
	assert.NoError(t, g.Err())

	// Waiting after the fact returns immediately.
	require.NoError(t, g.Wait(context.Background()))
}

func TestGateWaitCarriesError(t *testing.T) {
	g := NewGate()
	boom := errors.New("closed")
	go func() {
		time.Sleep(5 * time.Millisecond)
		g.Fire(boom)
	}()

	err := g.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestGateWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewGate().Wait(ctx), context.Canceled)
}
