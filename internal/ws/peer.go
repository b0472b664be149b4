package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
)

var (
	ErrBackpressure = errors.New("ws: outbound queue full")
	ErrDisconnected = errors.New("ws: connection closed")
)

const outboundQueue = 256

// peer is one end of a connection: a single writer goroutine fed by a
// queue, a read loop and the table of frames awaiting an ack.
type peer struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	metrics *monitoring.Metrics

	writeTimeout time.Duration
	pingInterval time.Duration

	out  chan []byte
	seq  atomic.Uint64
	mu   sync.Mutex
	acks map[uint64]chan *Frame

	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, cfg config.BridgeConfig, logger *zap.Logger, metrics *monitoring.Metrics) *peer {
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	writeTimeout := cfg.WriteTimeout.Std()
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &peer{
		conn:         conn,
		logger:       logger,
		metrics:      metrics,
		writeTimeout: writeTimeout,
		pingInterval: cfg.PingInterval.Std(),
		out:          make(chan []byte, outboundQueue),
		acks:         make(map[uint64]chan *Frame),
		done:         make(chan struct{}),
	}
}

// run pumps the connection until it fails or close is called. handle is
// invoked on the read goroutine for every frame except acks.
func (p *peer) run(handle func(*Frame)) error {
	go p.writeLoop()
	defer p.close()

	if p.pingInterval > 0 {
		wait := 2 * p.pingInterval
		_ = p.conn.SetReadDeadline(time.Now().Add(wait))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		f, err := decodeFrame(data)
		if err != nil {
			p.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		p.metrics.RecordWSMessage("in", string(f.Type))
		if f.Type == FrameAck {
			p.resolve(f)
			continue
		}
		handle(f)
	}
}

func (p *peer) writeLoop() {
	var ping <-chan time.Time
	if p.pingInterval > 0 {
		ticker := time.NewTicker(p.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case data := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("websocket write failed", zap.Error(err))
				p.close()
				return
			}
		case <-ping:
			deadline := time.Now().Add(p.writeTimeout)
			if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				p.logger.Debug("websocket ping failed", zap.Error(err))
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// enqueue queues f for the writer without blocking.
func (p *peer) enqueue(f *Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrDisconnected
	default:
	}
	select {
	case p.out <- data:
		p.metrics.RecordWSMessage("out", string(f.Type))
		return nil
	case <-p.done:
		return ErrDisconnected
	default:
		return ErrBackpressure
	}
}

// request sends f with a fresh sequence number and waits for its ack.
func (p *peer) request(ctx context.Context, f *Frame) (*Frame, error) {
	f.Seq = p.seq.Add(1)
	ch := make(chan *Frame, 1)
	p.mu.Lock()
	p.acks[f.Seq] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.acks, f.Seq)
		p.mu.Unlock()
	}()

	if err := p.enqueue(f); err != nil {
		return nil, err
	}
	select {
	case ack := <-ch:
		return ack, nil
	case <-p.done:
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *peer) resolve(ack *Frame) {
	p.mu.Lock()
	ch := p.acks[ack.Seq]
	p.mu.Unlock()
	if ch == nil {
		p.logger.Debug("ack without request", zap.Uint64("seq", ack.Seq))
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		deadline := time.Now().Add(time.Second)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = p.conn.Close()
	})
}
