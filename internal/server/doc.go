// Package server exposes a running shell over HTTP.
//
// Routes:
//   - GET  /health                              shell and bridge summary
//   - GET  /metrics                             Prometheus exposition
//   - GET  /windows                             window snapshots
//   - POST /windows                             create a root window
//   - GET  /windows/:handle                     one window
//   - POST /windows/:handle/close-request       simulate the user closing it
//   - GET  /windows/:handle/popup               the popup menu tracking over it
//   - POST /windows/:handle/popup/select        choose a popup item
//   - POST /windows/:handle/popup/dismiss       dismiss the popup
//   - GET  /stream                              websocket bridge
//
// Middleware: recovery, tracing, metrics, CORS and per-client rate limiting.
package server
