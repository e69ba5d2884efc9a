package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const maxChunks = 100

// Echo is the JSON body returned by the echo handler.
type Echo struct {
	Method     string      `json:"method"`
	RequestURI string      `json:"request_uri"`
	Host       string      `json:"host"`
	Headers    http.Header `json:"headers"`
	BodyLength int64       `json:"body_length"`
	BodySHA256 string      `json:"body_sha256"`
}

func newMux(log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", echoHandler(log))
	mux.HandleFunc("GET /stream", streamHandler)
	mux.HandleFunc("GET /ws", websocketHandler(log))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

func echoHandler(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := sha256.New()
		n, err := io.Copy(hash, r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		log.Info("Echo request",
			slog.String("method", r.Method),
			slog.String("uri", r.RequestURI),
			slog.String("from", r.RemoteAddr),
			slog.Int64("body_length", n))

		b, _ := json.Marshal(Echo{
			Method:     r.Method,
			RequestURI: r.RequestURI,
			Host:       r.Host,
			Headers:    r.Header,
			BodyLength: n,
			BodySHA256: hex.EncodeToString(hash.Sum(nil)),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

// streamHandler writes ?chunks= lines (default 5) spaced by ?delay= (default
// 200ms), flushing each one.
func streamHandler(w http.ResponseWriter, r *http.Request) {
	chunks := 5
	if v := r.URL.Query().Get("chunks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxChunks {
			http.Error(w, "chunks must be between 1 and 100", http.StatusBadRequest)
			return
		}
		chunks = n
	}

	delay := 200 * time.Millisecond
	if v := r.URL.Query().Get("delay"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			http.Error(w, "invalid delay", http.StatusBadRequest)
			return
		}
		delay = d
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/plain")

	for i := 1; i <= chunks; i++ {
		if i > 1 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if _, err := fmt.Fprintf(w, "chunk %d/%d\n", i, chunks); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func websocketHandler(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("WebSocket upgrade failed", slog.Any("err", err))
			return
		}
		defer conn.Close()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}
}
