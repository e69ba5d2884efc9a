package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/tunnel-relay/internal/metrics"
)

// exchange is the state of one inbound request and its outbound
// counterpart. It wraps the inbound ResponseWriter to observe the status
// and the bytes relayed, and lives exactly as long as ServeHTTP.
type exchange struct {
	http.ResponseWriter
	id            string
	start         time.Time
	statusCode    int
	backendStatus int
	bytesIn       atomic.Int64
	bytesOut      int64
	err           error
}

type exchangeKey struct{}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

func (r *Relay) begin(w http.ResponseWriter, req *http.Request) (*exchange, *http.Request) {
	ex := &exchange{
		ResponseWriter: w,
		id:             newExchangeID(),
		start:          time.Now(),
	}

	req = req.WithContext(context.WithValue(req.Context(), exchangeKey{}, ex))
	if req.Body != nil && req.Body != http.NoBody && req.ContentLength != 0 {
		req.Body = &countingBody{ReadCloser: req.Body, n: &ex.bytesIn}
	}

	r.tunnel.IncrementExchanges()
	r.metricsCollector.Emit(metrics.MetricEvent{
		Type:      metrics.EventExchangeStarted,
		Timestamp: ex.start,
	})

	r.logger.Info("Forwarding request",
		slog.String("exchange", ex.id),
		slog.String("from", req.RemoteAddr),
		slog.String("method", req.Method),
		slog.String("path", req.URL.RequestURI()),
		slog.String("proto", req.Proto),
		slog.String("host", req.Host),
		slog.String("user_agent", req.UserAgent()),
		slog.String("backend", r.tunnel.Address()))

	return ex, req
}

func (r *Relay) finish(ex *exchange, req *http.Request, panicking bool) {
	r.tunnel.DecrementExchanges()

	duration := time.Since(ex.start)
	event := metrics.MetricEvent{
		Timestamp:  time.Now(),
		Duration:   duration,
		StatusCode: ex.status(),
		BytesIn:    ex.bytesIn.Load(),
		BytesOut:   ex.bytesOut,
	}

	attrs := []any{
		slog.String("exchange", ex.id),
		slog.Int("status", event.StatusCode),
		slog.Duration("duration", duration),
		slog.Int64("bytes_in", event.BytesIn),
		slog.Int64("bytes_out", event.BytesOut),
	}

	switch {
	case req.Context().Err() != nil:
		event.Type = metrics.EventClientAborted
		r.logger.Info("Client disconnected, exchange abandoned", attrs...)
	case ex.err != nil:
		event.Type = metrics.EventBackendUnreachable
		event.StatusCode = http.StatusServiceUnavailable
	case panicking:
		event.Type = metrics.EventExchangeTruncated
		r.logger.Warn("Backend response truncated", attrs...)
	default:
		event.Type = metrics.EventExchangeCompleted
		r.tunnel.RecordResponse(duration)
		r.logger.Info("Exchange completed", attrs...)
	}

	r.metricsCollector.Emit(event)
}

func (ex *exchange) status() int {
	if ex.statusCode != 0 {
		return ex.statusCode
	}
	return ex.backendStatus
}

func (ex *exchange) WriteHeader(code int) {
	// 1xx other than 101 are interim; the final status is still to come.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		ex.ResponseWriter.WriteHeader(code)
		return
	}
	if ex.statusCode == 0 {
		ex.statusCode = code
	}
	ex.ResponseWriter.WriteHeader(code)
}

func (ex *exchange) Write(b []byte) (int, error) {
	if ex.statusCode == 0 {
		ex.statusCode = http.StatusOK
	}
	n, err := ex.ResponseWriter.Write(b)
	ex.bytesOut += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the connection for flushing,
// full duplex and protocol upgrades.
func (ex *exchange) Unwrap() http.ResponseWriter {
	return ex.ResponseWriter
}

type countingBody struct {
	io.ReadCloser
	n *atomic.Int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n.Add(int64(n))
	return n, err
}

func newExchangeID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}
