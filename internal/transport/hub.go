package transport

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
)

type route struct {
	channel string
	target  types.WindowHandle
}

// Hub is the in-process Transport. Delivery happens on the sender's
// goroutine, so per-sender ordering is the order of Send calls.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[types.WindowHandle]Receiver
	routes    map[route]types.WindowHandle
	closed    bool
	logger    *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		endpoints: make(map[types.WindowHandle]Receiver),
		routes:    make(map[route]types.WindowHandle),
		logger:    logger.Named("hub"),
	}
}

// Attach registers recv for endpoint, replacing any previous receiver.
func (h *Hub) Attach(endpoint types.WindowHandle, recv Receiver) error {
	if recv == nil {
		return fmt.Errorf("attach %s: nil receiver", endpoint)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.endpoints[endpoint] = recv
	h.logger.Debug("endpoint attached", zap.Int64("endpoint", int64(endpoint)))
	return nil
}

// Detach removes endpoint and all routes it serves.
func (h *Hub) Detach(endpoint types.WindowHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, endpoint)
	for r, ep := range h.routes {
		if ep == endpoint {
			delete(h.routes, r)
		}
	}
	h.logger.Debug("endpoint detached", zap.Int64("endpoint", int64(endpoint)))
}

// Bind routes channel calls addressed to target to endpoint.
func (h *Hub) Bind(channel string, target, endpoint types.WindowHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if _, ok := h.endpoints[endpoint]; !ok {
		return fmt.Errorf("bind %s/%s: %w", channel, target, ErrNotAttached)
	}
	h.routes[route{channel: channel, target: target}] = endpoint
	return nil
}

// Unbind removes a route.
func (h *Hub) Unbind(channel string, target types.WindowHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.routes, route{channel: channel, target: target})
}

// Send delivers env. Replies go to the endpoint named by Target; calls and
// events follow the (channel, target) route.
func (h *Hub) Send(env *Envelope) error {
	recv, err := h.resolve(env)
	if err != nil {
		return err
	}
	recv(env)
	return nil
}

// Broadcast delivers env to every endpoint serving env.Channel for any target.
func (h *Hub) Broadcast(env *Envelope) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	seen := make(map[types.WindowHandle]struct{})
	for r, ep := range h.routes {
		if r.channel == env.Channel {
			seen[ep] = struct{}{}
		}
	}
	targets := make([]types.WindowHandle, 0, len(seen))
	for ep := range seen {
		targets = append(targets, ep)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	receivers := make([]Receiver, 0, len(targets))
	for _, ep := range targets {
		if recv, ok := h.endpoints[ep]; ok {
			receivers = append(receivers, recv)
		}
	}
	h.mu.RUnlock()

	for _, recv := range receivers {
		copied := *env
		recv(&copied)
	}
	return nil
}

// Live reports whether anything is attached or bound for handle.
func (h *Hub) Live(handle types.WindowHandle) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveLocked(handle)
}

// Endpoints returns the attached endpoints in ascending order.
func (h *Hub) Endpoints() []types.WindowHandle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.WindowHandle, 0, len(h.endpoints))
	for ep := range h.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close detaches everything and rejects further use.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.endpoints = make(map[types.WindowHandle]Receiver)
	h.routes = make(map[route]types.WindowHandle)
}

func (h *Hub) resolve(env *Envelope) (Receiver, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}

	if env.Kind == KindReply {
		recv, ok := h.endpoints[env.Target]
		if !ok {
			return nil, fmt.Errorf("reply to %s: %w", env.Target, ErrUnknownTarget)
		}
		return recv, nil
	}

	ep, ok := h.routes[route{channel: env.Channel, target: env.Target}]
	if !ok {
		if h.liveLocked(env.Target) {
			return nil, fmt.Errorf("%s on %s: %w", env.Channel, env.Target, ErrNoRoute)
		}
		return nil, fmt.Errorf("%s: %w", env.Target, ErrUnknownTarget)
	}
	recv, ok := h.endpoints[ep]
	if !ok {
		return nil, fmt.Errorf("%s: %w", env.Target, ErrUnknownTarget)
	}
	return recv, nil
}

func (h *Hub) liveLocked(handle types.WindowHandle) bool {
	if _, ok := h.endpoints[handle]; ok {
		return true
	}
	for r := range h.routes {
		if r.target == handle {
			return true
		}
	}
	return false
}
