// Package protocol defines the framed message envelope exchanged with browsers.
//
// Every frame is one JSON object:
//
//	{"type": "chat"|"terminal"|"system"|"status"|"error",
//	 "data": {...}, "user_id": string|null, "session_id": string|null,
//	 "timestamp": RFC 3339 string}
//
// Kinds:
//   - chat: prompts (client → server) and assistant chunks (server → client)
//   - terminal: raw shell input and output under the "command" key
//   - system: server notices such as the welcome message
//   - status: presence changes (join, leave)
//   - error: failures addressed to a single connection or session
//
// Streaming responses are zero or more chunks
// ({"message_chunk": s, "streaming": true}) followed by exactly one final
// envelope ({"message": s, "streaming": false, "complete": true}).
package protocol
