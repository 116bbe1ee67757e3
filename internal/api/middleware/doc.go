// Package middleware provides the HTTP middleware of the terminal service.
//
// Middleware stack includes:
//   - CORS: wildcard origins without credentials, explicit origins with them
//   - RateLimit: token bucket per user (after RequireBearer) or per client IP
//   - GlobalRateLimit: one token bucket for every caller
//   - RequireBearer: bearer credential verification, principal on the context
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	protected := router.Group("/", middleware.RequireBearer(verifier), middleware.RateLimit(cfg))
//	protected.DELETE("/terminals/:session_id", handlers.TerminateTerminals)
package middleware
