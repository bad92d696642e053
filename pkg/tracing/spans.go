package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const routingKeyAttr = attribute.Key("messaging.routing_key")

// untracedPaths are operational endpoints that would only add noise.
var untracedPaths = []string{"/health", "/metrics", "/swagger/"}

// StartPublishSpan opens a producer span for one event headed to
// exchange/routingKey on the given messaging system.
func StartPublishSpan(ctx context.Context, system, exchange, routingKey string) (context.Context, trace.Span) {
	return GetTracer(instrumentationName).Start(ctx, "publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String(system),
			semconv.MessagingDestinationNameKey.String(exchange),
			routingKeyAttr.String(routingKey),
		),
	)
}

// GinMiddleware traces API requests and exposes the span's trace id to the
// logging context, so request logs and broker publishes share one id.
func GinMiddleware(serviceName string) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		otelgin.Middleware(serviceName, otelgin.WithFilter(tracedRequest)),
		func(c *gin.Context) {
			c.Request = c.Request.WithContext(WithTraceLogging(c.Request.Context()))
			c.Next()
		},
	}
}

func tracedRequest(r *http.Request) bool {
	for _, p := range untracedPaths {
		if strings.HasPrefix(r.URL.Path, p) {
			return false
		}
	}
	return true
}
