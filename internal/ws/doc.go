// Package ws provides the real-time endpoint of the terminal service.
//
// The Registry tracks live connections, indexed by connection id, by user
// and by session. Each connection has its own bounded outbound queue drained
// by a write pump, so one slow client never stalls a broadcast.
//
// The Handler admits a caller before any WebSocket handshake:
//
//	credential → principal → session exists → attach permission → entitlement (assisted only)
//
// then starts or reuses the session's terminal and runs the read loop.
//
// Message Types (Client → Server):
//   - terminal: {"command": "..."} raw input, optional {"resize": {"cols", "rows"}}
//   - chat: {"message": "...", "stream": true} (assisted terminals only)
//
// Message Types (Server → Client):
//   - system: welcome with connection and terminal info
//   - terminal: shell output, tagged with the producing kind in
//     data.terminal. Every connection of a session receives the output of
//     both shells and renders only its own kind; the scrollback replayed on
//     attach covers the attached kind only.
//   - chat: prompt echo, streamed chunks, one final message
//   - status: join and leave notices
//   - error: failures addressed to the originating connection
//
// Closing a connection never stops the terminal; the next subscriber gets
// the scrollback replayed.
//
// Example Usage:
//
//	handler := ws.NewHandler(ws.HandlerOptions{Gate: gate, Terminals: terminals, Connections: conns, Launch: launch, Chat: adapter})
//	router.GET("/ws/:session_id", handler.HandleConnection)
package ws
