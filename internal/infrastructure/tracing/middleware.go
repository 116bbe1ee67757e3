package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// HTTPMiddleware opens one span per request, named after the route template.
// Session and terminal selectors are tagged so a session's requests can be
// followed through the log. A websocket upgrade span lasts as long as the
// connection.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := withRemoteParent(c.Request.Context(), c.GetHeader)

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.path", c.Request.URL.Path)
		span.SetTag("session_id", c.Param("session_id"))
		span.SetTag("terminal", c.Query("kind"))
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			span.SetTag("http.upgrade", "websocket")
		}

		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		code := c.Writer.Status()
		if err == nil && code >= http.StatusInternalServerError {
			err = httpError(code)
		}
		tracer.End(span, code, err)
	}
}

type httpError int

func (e httpError) Error() string {
	return http.StatusText(int(e))
}

// GRPCUnaryInterceptor traces calls on the ops listener. The health service
// a caller asked about is tagged next to the method.
func GRPCUnaryInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = withRemoteParent(ctx, func(key string) string {
				if vals := md.Get(key); len(vals) > 0 {
					return vals[0]
				}
				return ""
			})
		}

		span, ctx := tracer.StartSpan(ctx, info.FullMethod)
		span.SetTag("rpc.system", "grpc")
		if r, ok := req.(interface{ GetService() string }); ok {
			span.SetTag("rpc.service", r.GetService())
		}

		resp, err := handler(ctx, req)
		span.SetTag("rpc.code", status.Code(err).String())
		tracer.End(span, 200, err)
		return resp, err
	}
}

// GRPCClientInterceptor propagates the caller's trace on outgoing calls,
// used by the --check client
func GRPCClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		span, ctx := tracer.StartSpan(ctx, method)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("span.kind", "client")
		if cc != nil {
			span.SetTag("rpc.target", cc.Target())
		}

		ctx = metadata.AppendToOutgoingContext(ctx,
			strings.ToLower(HeaderTraceID), string(span.TraceID),
			strings.ToLower(HeaderSpanID), string(span.SpanID),
		)

		err := invoker(ctx, method, req, reply, cc, opts...)
		span.SetTag("rpc.code", status.Code(err).String())
		tracer.End(span, 200, err)
		return err
	}
}
