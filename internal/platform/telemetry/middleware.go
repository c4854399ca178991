package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Middleware returns an Echo middleware that opens a server span per
// request and records request count, duration and in-flight requests.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	tracer := p.Tracer()
	meter := p.Meter()

	requests, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		otel.Handle(err)
	}
	duration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	active, err := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := tracer.Start(ctx, "HTTP "+req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("url.path", req.URL.Path),
					attribute.String("client.address", c.RealIP()),
				),
			)
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			if sc := span.SpanContext(); sc.HasTraceID() {
				c.Response().Header().Set("X-Trace-Id", sc.TraceID().String())
			}

			routeAttr := metric.WithAttributes(attribute.String("http.route", route))
			active.Add(ctx, 1, routeAttr)
			start := time.Now()

			err := next(c)

			active.Add(ctx, -1, routeAttr)
			status := responseStatus(c, err)

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
			}
			if tid, ok := c.Get("tenant_id").(string); ok && tid != "" {
				span.SetAttributes(attribute.String("tenant.id", tid))
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
				if err != nil {
					span.RecordError(err)
				}
			}

			requests.Add(ctx, 1, metric.WithAttributes(attrs...))
			duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			return err
		}
	}
}

// responseStatus is the status the client will see. Errors have not been
// through the HTTP error handler yet when the middleware returns.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
