// Package assistant connects assisted terminals to an external coding
// assistant.
//
// A Session is the assistant half of an assisted terminal: it owns the
// working directory and the conversation history. A Backend does the actual
// answering; three exist:
//   - CLIBackend runs a locally installed assistant CLI in print mode
//   - HTTPBackend calls a remote assistant service
//   - EchoBackend answers with a mock reply when nothing is configured
//
// The Adapter turns a prompt into chat envelopes for everyone subscribed to
// the session. It broadcasts the prompt first, then zero or more partial
// chunks, then exactly one final chunk. Failures never escape as errors;
// they become a final chunk describing what went wrong.
//
// Example Usage:
//
//	adapter := assistant.NewAdapter(connections, assistant.AdapterOptions{
//	    Breaker:   assistant.NewBreaker(metrics),
//	    Streaming: true,
//	})
//	go adapter.Stream(ctx, assistant.Prompt{SessionID: sid, UserID: uid, Text: msg, Stream: true, Session: sub})
package assistant
