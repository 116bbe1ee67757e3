// Package http provides the request/response endpoints of the terminal service.
//
// Endpoints:
//   - Banner and health: / and /health
//   - Connections: GET /ws/status
//   - Terminals: GET and DELETE /terminals/:session_id (?kind=basic|assisted|all)
//   - Assistant: GET /assistant/:session_id/status,
//     GET /assistant/:session_id/messages (?limit=n),
//     POST /assistant/:session_id/messages {"message", "stream"}
//   - Sessions: GET and POST /sessions,
//     PUT and DELETE /sessions/:session_id/members/:user_id (owners only)
//
// Session routes expect middleware.RequireBearer in front of them and answer
// 403 for unknown sessions and missing permissions alike.
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Options{Terminals: terminals, Connections: conns, Directory: st, Authorizer: st, Store: st})
//	router.GET("/ws/status", handlers.WSStatus)
//	protected.DELETE("/terminals/:session_id", handlers.TerminateTerminals)
package http
