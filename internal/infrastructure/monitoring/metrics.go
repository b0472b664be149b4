package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "winshell"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Dispatch metrics
	DispatchCalls    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	DispatchPending  prometheus.Gauge
	DiscardedReplies prometheus.Counter
	HandledCalls     *prometheus.CounterVec

	// Window metrics
	WindowsOpen    prometheus.Gauge
	WindowsCreated prometheus.Counter

	// Menu metrics
	MenusMaterialized prometheus.Gauge
	PopupOutcomes     *prometheus.CounterVec

	// WebSocket bridge metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec

	mu       sync.Mutex
	snapshot Snapshot
}

// Snapshot holds running totals for the JSON health endpoint
type Snapshot struct {
	Calls          int64 `json:"calls"`
	CallErrors     int64 `json:"callErrors"`
	WindowsOpen    int64 `json:"windowsOpen"`
	WindowsCreated int64 `json:"windowsCreated"`
	Connections    int64 `json:"connections"`
}

// NewMetrics registers the shell metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "path"},
		),

		DispatchCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_calls_total",
				Help:      "Cross-window calls issued, by outcome",
			},
			[]string{"channel", "method", "outcome"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_call_duration_seconds",
				Help:      "Round trip time of cross-window calls",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"channel"},
		),
		DispatchPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_pending_calls",
				Help:      "Calls awaiting a reply",
			},
		),
		DiscardedReplies: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_discarded_replies_total",
				Help:      "Replies that arrived after their caller stopped waiting",
			},
		),
		HandledCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_handled_calls_total",
				Help:      "Incoming calls served, by outcome",
			},
			[]string{"channel", "outcome"},
		),

		WindowsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "windows_open",
				Help:      "Windows currently open in the shell",
			},
		),
		WindowsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "windows_created_total",
				Help:      "Windows created since start",
			},
		),

		MenusMaterialized: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "menus_materialized",
				Help:      "Menus currently materialized in the shell",
			},
		),
		PopupOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "popup_menus_total",
				Help:      "Popup menus shown, by outcome",
			},
			[]string{"outcome"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Active websocket bridge connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Websocket bridge messages",
			},
			[]string{"direction", "kind"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCall records the outcome of an outgoing call
func (m *Metrics) RecordCall(channel, method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DispatchCalls.WithLabelValues(channel, method, outcome).Inc()
	m.DispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Calls++
	if outcome != "ok" {
		m.snapshot.CallErrors++
	}
	m.mu.Unlock()
}

// RecordHandled records an incoming call served by a handler
func (m *Metrics) RecordHandled(channel, outcome string) {
	if m == nil {
		return
	}
	m.HandledCalls.WithLabelValues(channel, outcome).Inc()
}

// IncPending marks a call as awaiting its reply
func (m *Metrics) IncPending() {
	if m == nil {
		return
	}
	m.DispatchPending.Inc()
}

// DecPending marks a pending call as settled
func (m *Metrics) DecPending() {
	if m == nil {
		return
	}
	m.DispatchPending.Dec()
}

// IncDiscardedReplies counts a reply nobody was waiting for
func (m *Metrics) IncDiscardedReplies() {
	if m == nil {
		return
	}
	m.DiscardedReplies.Inc()
}

// WindowOpened records a created window
func (m *Metrics) WindowOpened() {
	if m == nil {
		return
	}
	m.WindowsOpen.Inc()
	m.WindowsCreated.Inc()
	m.mu.Lock()
	m.snapshot.WindowsOpen++
	m.snapshot.WindowsCreated++
	m.mu.Unlock()
}

// WindowClosed records a closed window
func (m *Metrics) WindowClosed() {
	if m == nil {
		return
	}
	m.WindowsOpen.Dec()
	m.mu.Lock()
	m.snapshot.WindowsOpen--
	m.mu.Unlock()
}

// SetMenusMaterialized sets the number of live menus
func (m *Metrics) SetMenusMaterialized(count int) {
	if m == nil {
		return
	}
	m.MenusMaterialized.Set(float64(count))
}

// RecordPopup records how a popup menu ended
func (m *Metrics) RecordPopup(outcome string) {
	if m == nil {
		return
	}
	m.PopupOutcomes.WithLabelValues(outcome).Inc()
}

// IncWSConnections increments websocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.Connections++
	m.mu.Unlock()
}

// DecWSConnections decrements websocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.Connections--
	m.mu.Unlock()
}

// RecordWSMessage records a websocket message
func (m *Metrics) RecordWSMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

// SetBreakerState publishes a breaker state
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// Snapshot returns the running totals
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
