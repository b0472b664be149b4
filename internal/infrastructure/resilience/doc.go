/*
Package resilience provides the circuit breaker guarding bridge writes.

# Overview

A remote execution context that stops draining its websocket makes every
write block until the write deadline. The breaker turns a run of such
failures into immediate errors until a cool-down has passed, then lets a
trial call through to test the connection again.

# Usage

	breaker := resilience.New("bridge", resilience.Settings{
		Failures:    5,
		OpenTimeout: 30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed", zap.Stringer("to", to))
		},
	})

	err := breaker.Do(func() error {
		return conn.WriteMessage(websocket.TextMessage, data)
	})

# States

	Closed --[Failures consecutive errors]--> Open --[OpenTimeout]--> HalfOpen
	HalfOpen --[trial succeeds]--> Closed
	HalfOpen --[trial fails]--> Open
*/
package resilience
