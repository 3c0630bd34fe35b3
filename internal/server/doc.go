// Package server manages HTTP server lifecycle: non-blocking start,
// graceful shutdown, and asynchronous error propagation. The taskmeshd
// command runs two instances, one for the task API and one for the
// Prometheus endpoint.
package server
