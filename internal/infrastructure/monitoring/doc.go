/*
Package monitoring exposes Prometheus metrics for the shell.

# Overview

Metrics cover the cross-window call path (calls, latency, pending calls,
late replies), window and menu lifecycles, popup outcomes, the websocket
bridge and the HTTP surface. They are registered against a caller supplied
prometheus.Registerer so tests can use a private registry.

Every recorder is safe to call on a nil *Metrics, which lets components take
metrics as an optional dependency.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
