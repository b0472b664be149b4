package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
)

// ErrNoHost is returned by Launch when no connection offered to host
// execution contexts.
var ErrNoHost = errors.New("ws: no host connection")

// Bridge exposes a transport to websocket connections.
type Bridge struct {
	transport transport.Transport
	cfg       config.BridgeConfig
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	hosts    []*session
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics records connections and frames.
func WithMetrics(m *monitoring.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// WithOriginCheck replaces the upgrade origin check.
func WithOriginCheck(check func(r *http.Request) bool) BridgeOption {
	return func(b *Bridge) { b.upgrader.CheckOrigin = check }
}

// NewBridge creates a bridge routing through tr.
func NewBridge(tr transport.Transport, cfg config.BridgeConfig, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		transport: tr,
		cfg:       cfg,
		logger:    zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("bridge")
	return b
}

// HandleConnection upgrades the request and serves the connection until it
// closes.
func (b *Bridge) HandleConnection(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	b.Serve(conn)
}

// Serve runs the bridge protocol on an established connection.
func (b *Bridge) Serve(conn *websocket.Conn) {
	s := &session{
		id:        id.NewConnectionID().String(),
		bridge:    b,
		endpoints: make(map[types.WindowHandle]struct{}),
	}
	s.logger = b.logger.With(zap.String("connection", s.id))
	s.peer = newPeer(conn, b.cfg, s.logger, b.metrics)

	b.mu.Lock()
	b.sessions[s.id] = s
	b.mu.Unlock()
	b.metrics.IncWSConnections()
	s.logger.Info("bridge connection opened", zap.String("remote", conn.RemoteAddr().String()))

	defer b.drop(s)
	if err := s.enqueue(&Frame{Type: FrameWelcome, Connection: s.id}); err != nil {
		return
	}
	if err := s.run(s.handle); err != nil {
		s.logger.Debug("bridge connection failed", zap.Error(err))
	}
}

// Connections returns the ids of open connections, sorted.
func (b *Bridge) Connections() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasHost reports whether a connection can start contexts.
func (b *Bridge) HasHost() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hosts) > 0
}

// Launch asks the most recent host connection to start the context of a
// window. It returns once the remote context is attached.
func (b *Bridge) Launch(ctx context.Context, spec shell.LaunchSpec) error {
	b.mu.Lock()
	var host *session
	if n := len(b.hosts); n > 0 {
		host = b.hosts[n-1]
	}
	b.mu.Unlock()
	if host == nil {
		return ErrNoHost
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, host.writeTimeout)
		defer cancel()
	}
	ack, err := host.request(ctx, &Frame{
		Type:     FrameLaunch,
		Handle:   spec.Handle,
		Parent:   spec.Parent,
		InitData: spec.InitData,
	})
	if err != nil {
		return fmt.Errorf("launch %s on %s: %w", spec.Handle, host.id, err)
	}
	return ackError(ack)
}

// Close drops every connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

func (b *Bridge) drop(s *session) {
	s.close()

	b.mu.Lock()
	delete(b.sessions, s.id)
	for i, h := range b.hosts {
		if h == s {
			b.hosts = append(b.hosts[:i:i], b.hosts[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	s.mu.Lock()
	endpoints := make([]types.WindowHandle, 0, len(s.endpoints))
	for h := range s.endpoints {
		endpoints = append(endpoints, h)
	}
	s.endpoints = nil
	s.mu.Unlock()
	for _, h := range endpoints {
		b.transport.Detach(h)
	}

	b.metrics.DecWSConnections()
	s.logger.Info("bridge connection closed", zap.Int("endpoints", len(endpoints)))
}

// session is one bridged connection and the endpoints it attached.
type session struct {
	*peer
	id     string
	bridge *Bridge
	logger *zap.Logger

	mu        sync.Mutex
	endpoints map[types.WindowHandle]struct{}
}

func (s *session) owns(h types.WindowHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.endpoints[h]
	return ok
}

func (s *session) handle(f *Frame) {
	err := s.apply(f)
	if err != nil {
		s.logger.Debug("frame failed",
			zap.String("type", string(f.Type)),
			zap.Uint64("seq", f.Seq),
			zap.Error(err),
		)
	}
	if f.Seq == 0 {
		return
	}
	if qerr := s.enqueue(ackFor(f.Seq, err)); qerr != nil {
		s.logger.Warn("ack dropped", zap.Uint64("seq", f.Seq), zap.Error(qerr))
	}
}

func (s *session) apply(f *Frame) error {
	tr := s.bridge.transport
	switch f.Type {
	case FrameAttach:
		if !f.Handle.IsValid() {
			return fmt.Errorf("attach %s: not a window handle", f.Handle)
		}
		endpoint := f.Handle
		if err := tr.Attach(endpoint, func(env *transport.Envelope) { s.deliver(endpoint, env) }); err != nil {
			return err
		}
		s.mu.Lock()
		s.endpoints[endpoint] = struct{}{}
		s.mu.Unlock()
		return nil
	case FrameDetach:
		if !s.owns(f.Handle) {
			return nil
		}
		tr.Detach(f.Handle)
		s.mu.Lock()
		delete(s.endpoints, f.Handle)
		s.mu.Unlock()
		return nil
	case FrameBind:
		if !s.owns(f.Handle) {
			return fmt.Errorf("bind %s: %w", f.Handle, transport.ErrNotAttached)
		}
		return tr.Bind(f.Channel, f.Target, f.Handle)
	case FrameUnbind:
		tr.Unbind(f.Channel, f.Target)
		return nil
	case FrameSend, FrameBroadcast:
		if f.Envelope == nil {
			return errors.New("frame without envelope")
		}
		if !s.owns(f.Envelope.Source) {
			return fmt.Errorf("source %s: %w", f.Envelope.Source, transport.ErrNotAttached)
		}
		if f.Type == FrameBroadcast {
			return tr.Broadcast(f.Envelope)
		}
		return tr.Send(f.Envelope)
	case FrameHost:
		b := s.bridge
		b.mu.Lock()
		b.hosts = append(b.hosts, s)
		b.mu.Unlock()
		s.logger.Info("connection hosts contexts")
		return nil
	}
	return fmt.Errorf("unexpected frame %q", f.Type)
}

// deliver forwards an envelope routed to one of the session's endpoints.
func (s *session) deliver(endpoint types.WindowHandle, env *transport.Envelope) {
	if err := s.enqueue(&Frame{Type: FrameEnvelope, Handle: endpoint, Envelope: env}); err != nil {
		s.logger.Warn("envelope dropped",
			zap.Int64("endpoint", int64(endpoint)),
			zap.String("channel", env.Channel),
			zap.String("method", env.Method),
			zap.Error(err),
		)
	}
}
