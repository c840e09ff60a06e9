// Package httpserver wraps net/http with graceful shutdown on context
// cancellation or SIGINT/SIGTERM, sane default timeouts, and a composable
// health endpoint for dependency probes.
package httpserver
