package middleware

import (
	"time"

	"roomcast/pkg/logger"
	"roomcast/pkg/tracing"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware tags the request context with the room, participant and
// trace ids and logs one line per request. Mount it after TracingMiddleware.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if room := c.Param("id"); room != "" {
			ctx = logger.WithRoomID(ctx, room)
		}
		if sc := tracing.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		ctx = c.Request.Context()
		if p, ok := ParticipantFrom(c); ok {
			ctx = logger.WithParticipantID(ctx, string(p.ID))
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(ctx, c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
