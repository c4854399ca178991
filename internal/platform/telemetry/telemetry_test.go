package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestProvider(t *testing.T, cfg TelemetryConfig) *Provider {
	t.Helper()
	p, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	e := echo.New()
	e.GET("/metrics", p.MetricsHandler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestTelemetryConfig_Defaults(t *testing.T) {
	cfg := TelemetryConfig{}
	cfg.applyDefaults()

	if cfg.ServiceName != "clinic-server" {
		t.Fatalf("expected default ServiceName='clinic-server', got %q", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "0.0.0" {
		t.Fatalf("expected default ServiceVersion='0.0.0', got %q", cfg.ServiceVersion)
	}
	if cfg.Environment != "development" {
		t.Fatalf("expected default Environment='development', got %q", cfg.Environment)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected default SampleRate=1.0, got %f", cfg.SampleRate)
	}
	if !cfg.metricsOn() || !cfg.tracingOn() {
		t.Fatal("expected metrics and tracing on by default")
	}
}

func TestTelemetryConfig_CustomValues(t *testing.T) {
	cfg := TelemetryConfig{
		ServiceName:    "clinic-api",
		ServiceVersion: "1.2.3",
		Environment:    "production",
		SampleRate:     0.5,
		MetricsEnabled: BoolPtr(false),
		TracingEnabled: BoolPtr(false),
	}
	cfg.applyDefaults()

	if cfg.ServiceName != "clinic-api" || cfg.ServiceVersion != "1.2.3" || cfg.Environment != "production" {
		t.Fatalf("custom values overwritten: %+v", cfg)
	}
	if cfg.SampleRate != 0.5 {
		t.Fatalf("expected SampleRate=0.5, got %f", cfg.SampleRate)
	}
	if cfg.metricsOn() || cfg.tracingOn() {
		t.Fatal("expected metrics and tracing off")
	}
}

func TestShutdown_Clean(t *testing.T) {
	p, err := NewProvider(context.Background(), TelemetryConfig{})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got error: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown should not error: %v", err)
	}
}

func TestNewProvider_SetsGlobals(t *testing.T) {
	p := newTestProvider(t, TelemetryConfig{})

	c, err := otel.Meter("test").Int64Counter("integrity.fields.scanned")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	c.Add(context.Background(), 3)

	body := scrape(t, p)
	if !strings.Contains(body, "integrity_fields_scanned") {
		t.Errorf("expected counter from the global meter in exposition, got:\n%s", body)
	}
	if !strings.Contains(body, `service_name="clinic-server"`) {
		t.Errorf("expected resource attributes in target_info, got:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected Go runtime collector metrics")
	}
}

func TestMetricsHandler_Disabled(t *testing.T) {
	p := newTestProvider(t, TelemetryConfig{MetricsEnabled: BoolPtr(false)})

	e := echo.New()
	e.GET("/metrics", p.MetricsHandler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 when metrics are disabled, got %d", rec.Code)
	}
}

func TestMiddleware_RecordsSpanAndMetrics(t *testing.T) {
	p := newTestProvider(t, TelemetryConfig{})
	recorder := tracetest.NewSpanRecorder()
	p.tracerProvider.RegisterSpanProcessor(recorder)

	e := echo.New()
	e.Use(p.Middleware())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		c.Set("tenant_id", "clinic_a")
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/broken", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "down")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients/42", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Error("expected X-Trace-Id response header")
	}
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/broken", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "HTTP GET /api/v1/patients/:id" {
		t.Errorf("expected span named by route pattern, got %q", spans[0].Name())
	}
	var tenant string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "tenant.id" {
			tenant = kv.Value.AsString()
		}
	}
	if tenant != "clinic_a" {
		t.Errorf("expected tenant.id attribute, got %q", tenant)
	}
	if spans[1].Status().Code.String() != "Error" {
		t.Errorf("expected error status for 503, got %v", spans[1].Status().Code)
	}

	body := scrape(t, p)
	if !strings.Contains(body, "http_server_request_duration") {
		t.Errorf("expected request duration histogram, got:\n%s", body)
	}
	if !strings.Contains(body, `http_response_status_code="503"`) {
		t.Errorf("expected the 503 to be recorded with its status, got:\n%s", body)
	}
}

func TestResponseStatus(t *testing.T) {
	e := echo.New()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"http error", echo.NewHTTPError(http.StatusConflict, "busy"), http.StatusConflict},
		{"plain error", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			if got := responseStatus(c, tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
