// Package server wires the terminal service together.
//
// Components:
//   - Session store (SQLite) behind the admission gate
//   - Terminal registry and connection registry, sharing one metrics set
//   - Assistant backend, profile, breaker and streaming adapter
//   - Gin router: banner, health, status, metrics, real-time endpoint and
//     the bearer-protected session routes
//   - gRPC health service for orchestrator health checks
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Build logger, metrics and tracer
//  3. Open the store, apply the seed file if one is set, build credential
//     verifiers
//  4. Select the assistant backend and load its profile
//  5. Serve HTTP and gRPC health
//  6. On shutdown: stop accepting, close connections, terminate shells,
//     close the store
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	srv.Run(ctx)
package server
