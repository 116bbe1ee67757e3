/*
Package tracing provides lightweight request tracing through structured logs.

# Overview

Spans are created for HTTP requests, gRPC calls on the ops listener and
assistant invocations. Completed spans are handed to a buffered collector
that logs them with zap; nothing is exported to an external system.

# Usage

	tracer := tracing.New("webterm", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	server := grpc.NewServer(
		grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
	)

	span, ctx := tracer.StartSpan(ctx, "assistant.stream")
	span.SetTag("session_id", sessionID)
	tracer.End(span, 200, err)

HTTP spans are named "METHOD /route/:template" and tagged with the
session_id path parameter and the terminal kind selector when present.
Responses of 500 and above are logged as errors.

# Propagation

- X-Trace-ID: identifier for the whole request flow
- X-Span-ID: identifier for the current operation

The same keys travel as lowercase gRPC metadata.
*/
package tracing
