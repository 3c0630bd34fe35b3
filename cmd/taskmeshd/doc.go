/*
Package main provides the taskmeshd server entry point.

cmd/taskmeshd runs a single-node coordinator with an HTTP API for task
submission and status inspection, plus a separate Prometheus metrics
endpoint. Subcommands: serve, version, health.

The middleware chain covers panic recovery, request logging, and a
per-client rate limiter. Version, BuildTime, and GitCommit are injected
at build time via ldflags.
*/
package main
