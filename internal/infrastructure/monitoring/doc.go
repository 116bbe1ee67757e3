/*
Package monitoring provides Prometheus metrics for the terminal service.

# Metrics

- HTTP request metrics (latency, size), labelled by route template
- WebSocket connections, envelopes in/out, dropped deliveries
- Running terminals and start attempts per kind
- Assistant responses, chunks and latency per mode
- Circuit breaker state
- gRPC calls served by the ops listener

# Usage

	metrics := monitoring.NewMetrics(nil)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "stream")
	// ... run the assistant ...
	timer.Stop("ok")

Tests pass prometheus.NewRegistry() so collectors never clash between cases.
All methods accept a nil receiver.
*/
package monitoring
