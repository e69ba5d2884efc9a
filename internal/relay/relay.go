package relay

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/angeloszaimis/tunnel-relay/internal/backend"
	"github.com/angeloszaimis/tunnel-relay/internal/metrics"
)

// UnreachableMessage is the body of the 503 the relay writes when the
// tunnel endpoint cannot be reached.
const UnreachableMessage = "Service Unavailable: The remote tunnel connection is closed or the local application is down."

// Config is the immutable per-process relay configuration.
type Config struct {
	// ConnectTimeout bounds dialing the tunnel endpoint. Zero means no limit.
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for backend response headers
	// once the request has been written. Zero means no limit.
	ResponseHeaderTimeout time.Duration
	// KeepAlive reuses backend connections across exchanges. When false
	// every exchange dials its own connection and closes it afterwards.
	KeepAlive bool
	// FullDuplex lets HTTP/1 uploads keep streaming after the backend has
	// started answering.
	FullDuplex bool
}

type Relay struct {
	logger           *slog.Logger
	tunnel           *backend.Tunnel
	config           Config
	proxy            *httputil.ReverseProxy
	metricsCollector *metrics.Collector
}

func New(logger *slog.Logger, tunnel *backend.Tunnel, collector *metrics.Collector, cfg Config) *Relay {
	r := &Relay{
		logger:           logger,
		tunnel:           tunnel,
		config:           cfg,
		metricsCollector: collector,
	}

	r.proxy = &httputil.ReverseProxy{
		Rewrite:        r.rewrite,
		Transport:      newTransport(tunnel.Address(), cfg),
		FlushInterval:  -1,
		BufferPool:     newBufferPool(),
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		ErrorHandler:   r.handleError,
		ModifyResponse: r.modifyResponse,
	}

	return r
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ex, req := r.begin(w, req)

	defer func() {
		// httputil aborts with http.ErrAbortHandler when the body copy
		// fails after headers went out.
		if p := recover(); p != nil {
			r.finish(ex, req, true)
			panic(p)
		}
		r.finish(ex, req, false)
	}()

	if r.config.FullDuplex {
		// HTTP/2 is always full duplex and reports ErrNotSupported here.
		_ = http.NewResponseController(w).EnableFullDuplex()
	}

	r.proxy.ServeHTTP(ex, req)
}

// rewrite points the outbound request at the tunnel: the inbound Host, raw
// query and end-to-end headers travel unchanged, and no forwarding headers
// are added.
func (r *Relay) rewrite(pr *httputil.ProxyRequest) {
	target := r.tunnel.URL()

	pr.Out.URL.Scheme = target.Scheme
	pr.Out.URL.Host = target.Host
	pr.Out.URL.RawQuery = pr.In.URL.RawQuery
	pr.Out.Host = pr.In.Host
	pr.Out.Header = pr.In.Header.Clone()

	// Without keep-alive the transport sends its own "Connection: close";
	// the client's connection options describe the inbound hop only.
	if !r.config.KeepAlive && !isUpgrade(pr.Out.Header) {
		for _, key := range connectionHeaders {
			pr.Out.Header.Del(key)
		}
	}
}

var connectionHeaders = []string{"Connection", "Keep-Alive", "Proxy-Connection"}

func isUpgrade(header http.Header) bool {
	if header.Get("Upgrade") == "" {
		return false
	}
	for _, value := range header.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}

func (r *Relay) modifyResponse(res *http.Response) error {
	if ex := exchangeFrom(res.Request.Context()); ex != nil {
		ex.backendStatus = res.StatusCode
		r.logger.Debug("Backend responded",
			slog.String("exchange", ex.id),
			slog.Int("status", res.StatusCode),
			slog.Duration("ttfb", time.Since(ex.start)))
	}
	return nil
}

// handleError runs when no backend response could be obtained. It is the
// only recovery the relay performs: one fixed 503, never a retry.
func (r *Relay) handleError(w http.ResponseWriter, req *http.Request, err error) {
	if ex, ok := w.(*exchange); ok {
		ex.err = err
	}

	if req.Context().Err() != nil {
		r.logger.Debug("Client went away before the tunnel answered",
			slog.String("path", req.URL.RequestURI()),
			slog.Any("err", err))
	} else {
		r.logger.Error("SSH tunnel or local app unreachable",
			slog.String("backend", r.tunnel.Address()),
			slog.String("method", req.Method),
			slog.String("path", req.URL.RequestURI()),
			slog.Any("err", err))
	}

	writeUnreachable(w)
}

func writeUnreachable(w http.ResponseWriter) {
	header := w.Header()
	for key := range header {
		delete(header, key)
	}
	header.Set("Content-Type", "text/plain")

	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, UnreachableMessage)
}
