package window

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
)

// MethodHandler serves one custom method.
type MethodHandler func(ctx context.Context, call *dispatch.Call) (any, error)

// MethodCallProvider claims custom methods. It returns nil for methods it
// does not serve.
type MethodCallProvider interface {
	OnMethodCall(method string) MethodHandler
}

// Methods is a provider backed by a fixed table.
type Methods map[string]MethodHandler

// OnMethodCall implements MethodCallProvider.
func (m Methods) OnMethodCall(method string) MethodHandler {
	return m[method]
}

// ProviderFunc adapts a function to MethodCallProvider.
type ProviderFunc func(method string) MethodHandler

// OnMethodCall implements MethodCallProvider.
func (f ProviderFunc) OnMethodCall(method string) MethodHandler {
	return f(method)
}

// MethodCallHandler routes the context's custom calls to the first attached
// provider that claims the method.
type MethodCallHandler struct {
	mu     sync.Mutex
	scopes []*Scope
}

// Scope is one provider registration.
type Scope struct {
	owner    *MethodCallHandler
	provider MethodCallProvider
	once     sync.Once
}

// NewMethodCallHandler creates an empty multiplexer.
func NewMethodCallHandler() *MethodCallHandler {
	return &MethodCallHandler{}
}

// Attach registers p after every provider already attached.
func (h *MethodCallHandler) Attach(p MethodCallProvider) *Scope {
	s := &Scope{owner: h, provider: p}
	h.mu.Lock()
	h.scopes = append(h.scopes, s)
	h.mu.Unlock()
	return s
}

// Detach removes the registration. Calling it again does nothing.
func (s *Scope) Detach() {
	s.once.Do(func() {
		h := s.owner
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, other := range h.scopes {
			if other == s {
				h.scopes = append(h.scopes[:i:i], h.scopes[i+1:]...)
				return
			}
		}
	})
}

// Len returns the number of attached providers.
func (h *MethodCallHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.scopes)
}

// Handle is the dispatch handler for the custom method channel.
func (h *MethodCallHandler) Handle(ctx context.Context, call *dispatch.Call) (any, error) {
	h.mu.Lock()
	scopes := make([]*Scope, len(h.scopes))
	copy(scopes, h.scopes)
	h.mu.Unlock()

	for _, s := range scopes {
		if handler := s.provider.OnMethodCall(call.Method); handler != nil {
			return handler(ctx, call)
		}
	}
	return nil, dispatch.NewError(dispatch.KindNoHandler, "no handler for method %q", call.Method)
}
