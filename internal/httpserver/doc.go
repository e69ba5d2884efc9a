// Package httpserver wraps net/http.Server with address validation, a
// separate bind step and graceful shutdown.
package httpserver
