package middleware

import (
	"sharecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens a span per control request; share spans opened by
// the handlers nest under it.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.client_ip", c.ClientIP()),
			attribute.Int("http.status_code", status),
		)
		if participant := ParticipantID(c); participant != "" {
			span.SetAttributes(attribute.String("sharecast.participant_id", participant))
		}
		if len(c.Errors) > 0 {
			span.SetStatus(codes.Error, c.Errors.Last().Error())
		} else if status >= 500 {
			span.SetStatus(codes.Error, "")
		}
	}
}
