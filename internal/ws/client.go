package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// Client is a transport.Transport backed by a bridge connection.
type Client struct {
	*peer
	id      string
	breaker *resilience.Breaker
	logger  *zap.Logger

	mu        sync.Mutex
	receivers map[types.WindowHandle]transport.Receiver
	launcher  shell.Launcher

	runErr  error
	stopped chan struct{}
}

type clientOptions struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics
	dialer  *websocket.Dialer
}

// ClientOption configures Dial.
type ClientOption func(*clientOptions)

// WithClientLogger sets the client logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// WithClientMetrics records frames and breaker state.
func WithClientMetrics(m *monitoring.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(o *clientOptions) { o.dialer = d }
}

var _ transport.Transport = (*Client)(nil)

// Dial connects to a bridge at url and waits for its welcome.
func Dial(ctx context.Context, url string, cfg config.BridgeConfig, opts ...ClientOption) (*Client, error) {
	o := clientOptions{logger: zap.NewNop(), dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(&o)
	}

	conn, _, err := o.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	welcome, err := decodeFrame(data)
	if err != nil || welcome.Type != FrameWelcome {
		conn.Close()
		return nil, fmt.Errorf("bridge did not send a welcome frame")
	}

	logger := o.logger.Named("ws").With(zap.String("connection", welcome.Connection))
	c := &Client{
		id:        welcome.Connection,
		logger:    logger,
		receivers: make(map[types.WindowHandle]transport.Receiver),
		stopped:   make(chan struct{}),
	}
	c.peer = newPeer(conn, cfg, logger, o.metrics)
	c.breaker = resilience.New("ws-"+welcome.Connection, resilience.Settings{
		Failures:    cfg.BreakerFailures,
		OpenTimeout: cfg.BreakerTimeout.Std(),
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			o.metrics.SetBreakerState(name, int(to))
		},
	})

	go func() {
		c.runErr = c.run(c.handle)
		close(c.stopped)
	}()
	return c, nil
}

// ID returns the connection id assigned by the bridge.
func (c *Client) ID() string {
	return c.id
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.stopped
}

// Err returns why the connection ended, once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.stopped:
		return c.runErr
	default:
		return nil
	}
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.close()
	<-c.stopped
	return nil
}

// Host offers this connection for starting execution contexts. l is called
// for every window the shell routes here.
func (c *Client) Host(l shell.Launcher) error {
	c.mu.Lock()
	c.launcher = l
	c.mu.Unlock()
	return c.call(&Frame{Type: FrameHost})
}

// Attach implements transport.Transport.
func (c *Client) Attach(endpoint types.WindowHandle, recv transport.Receiver) error {
	if recv == nil {
		return fmt.Errorf("attach %s: nil receiver", endpoint)
	}
	c.mu.Lock()
	c.receivers[endpoint] = recv
	c.mu.Unlock()

	if err := c.call(&Frame{Type: FrameAttach, Handle: endpoint}); err != nil {
		c.mu.Lock()
		delete(c.receivers, endpoint)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Detach implements transport.Transport.
func (c *Client) Detach(endpoint types.WindowHandle) {
	c.mu.Lock()
	delete(c.receivers, endpoint)
	c.mu.Unlock()
	if err := c.call(&Frame{Type: FrameDetach, Handle: endpoint}); err != nil {
		c.logger.Debug("detach not acknowledged", zap.Int64("endpoint", int64(endpoint)), zap.Error(err))
	}
}

// Bind implements transport.Transport.
func (c *Client) Bind(channel string, target, endpoint types.WindowHandle) error {
	return c.call(&Frame{Type: FrameBind, Channel: channel, Target: target, Handle: endpoint})
}

// Unbind implements transport.Transport.
func (c *Client) Unbind(channel string, target types.WindowHandle) {
	if err := c.call(&Frame{Type: FrameUnbind, Channel: channel, Target: target}); err != nil {
		c.logger.Debug("unbind not acknowledged", zap.String("channel", channel), zap.Error(err))
	}
}

// Send implements transport.Transport.
func (c *Client) Send(env *transport.Envelope) error {
	return c.call(&Frame{Type: FrameSend, Envelope: env})
}

// Broadcast implements transport.Transport.
func (c *Client) Broadcast(env *transport.Envelope) error {
	return c.call(&Frame{Type: FrameBroadcast, Envelope: env})
}

// call sends f and waits for the bridge to apply it. Only connection
// failures count against the breaker; routing errors reported by the bridge
// are returned as they are.
func (c *Client) call(f *Frame) error {
	var remote error
	err := c.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		defer cancel()
		ack, err := c.request(ctx, f)
		if err != nil {
			return err
		}
		remote = ackError(ack)
		return nil
	})
	switch {
	case errors.Is(err, ErrDisconnected):
		return fmt.Errorf("%s: %w", f.Type, transport.ErrClosed)
	case err != nil:
		return fmt.Errorf("%s: %w", f.Type, err)
	}
	return remote
}

func (c *Client) handle(f *Frame) {
	switch f.Type {
	case FrameEnvelope:
		if f.Envelope == nil {
			return
		}
		c.mu.Lock()
		recv := c.receivers[f.Handle]
		c.mu.Unlock()
		if recv == nil {
			c.logger.Debug("envelope for unknown endpoint", zap.Int64("endpoint", int64(f.Handle)))
			return
		}
		recv(f.Envelope)
	case FrameLaunch:
		c.mu.Lock()
		l := c.launcher
		c.mu.Unlock()
		// Launching attaches through this connection, so it cannot run on
		// the read goroutine.
		go func() {
			err := errors.New("connection does not host contexts")
			if l != nil {
				err = l.Launch(context.Background(), shell.LaunchSpec{Handle: f.Handle, Parent: f.Parent, InitData: f.InitData})
			}
			if f.Seq == 0 {
				return
			}
			if qerr := c.enqueue(ackFor(f.Seq, err)); qerr != nil {
				c.logger.Warn("launch ack dropped", zap.Error(qerr))
			}
		}()
	default:
		c.logger.Debug("unexpected frame", zap.String("type", string(f.Type)))
	}
}
