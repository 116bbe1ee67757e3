// Package main is the entry point for the webterm server.
//
// The server lets browsers drive shells (plain or assistant-backed) over a
// WebSocket and fans every session's output out to all of its viewers.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags override the port, development mode and seed file
//
// Usage:
//
//	# Production mode
//	AUTH_SECRET=... ./server --port 8000
//
//	# Development mode (colored logs, debug level)
//	./server --dev
//
//	# Load sessions, members and plans before serving
//	./server --seed deploy/seed.yaml
//
//	# Container health check
//	./server --check
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
