// Package relay forwards every inbound HTTP request to a single loopback
// tunnel endpoint and streams the answer back.
//
// Method, path, raw query, Host and the full header set are passed through
// unchanged, and both bodies are streamed without buffering. When no
// backend response can be obtained the caller receives a fixed 503 with a
// text/plain body. A client that disconnects cancels its outbound request.
package relay
