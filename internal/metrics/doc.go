// Package metrics collects relay exchange metrics off the request path.
//
// Exchanges report lifecycle events through a buffered channel:
//   - exchange_started when a request is accepted
//   - exchange_completed when the backend response was streamed in full
//   - backend_unreachable when the relay answered 503 itself
//   - client_aborted when the caller went away first
//   - exchange_truncated when the backend dropped mid-body
//   - health_changed when the tunnel probe flips
//
// The collector runs in its own goroutine. Emit never blocks; when the
// buffer is full the event is dropped and counted instead, so a slow
// collector cannot stall exchanges.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	go collector.Run(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventExchangeCompleted,
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.TunnelSnapshot(tunnel)
//
// Buffered events are drained on shutdown so nothing already queued is lost.
package metrics
