package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/tunnel-relay/internal/backend"
)

type EventType string

const (
	EventExchangeStarted    EventType = "exchange_started"
	EventExchangeCompleted  EventType = "exchange_completed"
	EventBackendUnreachable EventType = "backend_unreachable"
	EventClientAborted      EventType = "client_aborted"
	EventExchangeTruncated  EventType = "exchange_truncated"
	EventHealthChanged      EventType = "health_changed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Duration   time.Duration
	StatusCode int
	BytesIn    int64
	BytesOut   int64
	Healthy    bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit queues an event without blocking. Events are dropped and counted
// when the buffer is full. Emit on a nil Collector is a no-op.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
	}
}

// Run processes events until ctx is done, then drains what is buffered.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventExchangeStarted:
		c.metrics.StartExchange()

	case EventExchangeCompleted:
		c.metrics.CompleteExchange(event.Duration, event.StatusCode, event.BytesIn, event.BytesOut)

	case EventBackendUnreachable:
		c.metrics.RecordUnreachable(event.StatusCode)

	case EventClientAborted:
		c.metrics.RecordAborted(event.BytesIn, event.BytesOut)

	case EventExchangeTruncated:
		c.metrics.RecordTruncated(event.StatusCode, event.BytesIn, event.BytesOut)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Healthy)

	default:
		c.logger.Debug("Ignoring unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(backend string) Snapshot {
	snap := c.metrics.Snapshot(backend)
	snap.DroppedEvents = c.dropped.Load()
	return snap
}

// TunnelSnapshot is Snapshot for tunnel with the in-flight count and the
// smoothed latency read from the tunnel itself, which sees every exchange
// even when events were dropped.
func (c *Collector) TunnelSnapshot(tunnel *backend.Tunnel) Snapshot {
	snap := c.Snapshot(tunnel.Address())
	snap.Exchanges.InFlight = int64(tunnel.ActiveExchanges())
	snap.EWMAResponse = tunnel.EWMATime()
	return snap
}
