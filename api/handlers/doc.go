// Package handlers implements the HTTP API for the coordination engine:
// task submission and status, worker inventory and status signals, queue
// inspection, explicit handoff requests, and health probes.
package handlers
