package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeExporter struct {
	exported []sdktrace.ReadOnlySpan
	shutdown bool
}

func (f *fakeExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	f.exported = append(f.exported, spans...)
	return nil
}

func (f *fakeExporter) Shutdown(_ context.Context) error {
	f.shutdown = true
	return nil
}

func TestInitUsesConfiguredEndpointAndResourceAttributes(t *testing.T) {
	originalVersion := ServiceVersion
	ServiceVersion = "v1.2.3-test"
	defer func() { ServiceVersion = originalVersion }()

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("BUSHPORTAL_ENV", "prod")

	fake := &fakeExporter{}
	capturedEndpoint := ""
	restoreFactory := setExporterFactoryForTest(func(_ context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		capturedEndpoint = endpoint
		return fake, nil
	})
	defer restoreFactory()

	shutdown, err := Init(context.Background(), Process{
		Endpoint:      "http://from-config:4318",
		Provider:      "anthropic",
		Model:         "claude-sonnet-4-5",
		WebSocketPath: "/ws/live-coding",
		ListenAddr:    "127.0.0.1:8080",
	})
	if err != nil {
		t.Fatalf("init telemetry: %v", err)
	}

	if capturedEndpoint != "http://collector:4318" {
		t.Fatalf("endpoint = %q, want collector endpoint", capturedEndpoint)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "startup")
	span.End()

	shutdown()
	if !fake.shutdown {
		t.Fatal("expected exporter shutdown on telemetry shutdown")
	}
	if len(fake.exported) == 0 {
		t.Fatal("expected at least one exported span")
	}

	attrs := fake.exported[0].Resource().Attributes()
	assertResourceAttribute(t, attrs, "service.name", ServiceName)
	assertResourceAttribute(t, attrs, "service.version", "v1.2.3-test")
	assertResourceAttribute(t, attrs, "deployment.environment", "prod")
	assertResourceAttribute(t, attrs, "bushportal.llm.provider", "anthropic")
	assertResourceAttribute(t, attrs, "bushportal.llm.model", "claude-sonnet-4-5")
	assertResourceAttribute(t, attrs, "bushportal.websocket.path", "/ws/live-coding")
	assertResourceAttribute(t, attrs, "bushportal.listen_addr", "127.0.0.1:8080")
}

func TestNewResourceOmitsEmptySettings(t *testing.T) {
	res, err := newResource(context.Background(), Process{Provider: "scripted", WebSocketPath: "  "})
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}

	attrs := res.Attributes()
	assertResourceAttribute(t, attrs, "bushportal.llm.provider", "scripted")
	for _, attr := range attrs {
		switch string(attr.Key) {
		case "bushportal.llm.model", "bushportal.websocket.path", "bushportal.listen_addr":
			t.Fatalf("unexpected resource attribute %s=%q", attr.Key, attr.Value.Emit())
		}
	}
}

func TestInitUsesDefaultEndpointWhenUnset(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	fake := &fakeExporter{}
	capturedEndpoint := ""
	restoreFactory := setExporterFactoryForTest(func(_ context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		capturedEndpoint = endpoint
		return fake, nil
	})
	defer restoreFactory()

	shutdown, err := Init(context.Background(), Process{})
	if err != nil {
		t.Fatalf("init telemetry: %v", err)
	}
	defer shutdown()

	if capturedEndpoint != DefaultEndpoint {
		t.Fatalf("endpoint = %q, want %q", capturedEndpoint, DefaultEndpoint)
	}
}

func TestInitPrefersOverrideThenConfiguredEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	captured := []string{}
	restoreFactory := setExporterFactoryForTest(func(_ context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		captured = append(captured, endpoint)
		return &fakeExporter{}, nil
	})
	defer restoreFactory()

	shutdown, err := Init(context.Background(), Process{Endpoint: " http://from-config:4318 "})
	if err != nil {
		t.Fatalf("init telemetry: %v", err)
	}
	shutdown()

	restoreOverride := setEndpointOverrideForTest("http://from-flag:4318")
	defer restoreOverride()
	shutdown, err = Init(context.Background(), Process{Endpoint: "http://from-config:4318"})
	if err != nil {
		t.Fatalf("init telemetry: %v", err)
	}
	shutdown()

	want := []string{"http://from-config:4318", "http://from-flag:4318"}
	if len(captured) != len(want) || captured[0] != want[0] || captured[1] != want[1] {
		t.Fatalf("endpoints = %v, want %v", captured, want)
	}
}

func TestInitFallsBackToConsoleExporter(t *testing.T) {
	restoreFactory := setExporterFactoryForTest(func(_ context.Context, _ string) (sdktrace.SpanExporter, error) {
		return nil, errors.New("dial failed")
	})
	defer restoreFactory()

	shutdown, err := Init(context.Background(), Process{})
	if err != nil {
		t.Fatalf("init telemetry: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected shutdown func with console exporter")
	}
	shutdown()
	shutdown()
}

func TestStderrSpanExporterWritesSpansAndEvents(t *testing.T) {
	var out strings.Builder
	exporter := &stderrSpanExporter{out: &out}
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	_, span := provider.Tracer("telemetry-test").Start(context.Background(), "livecoding.run")
	span.AddEvent("llm.file_emitted")
	span.End()

	if !strings.Contains(out.String(), "[SPAN] livecoding.run") {
		t.Fatalf("exporter output missing span: %q", out.String())
	}
	if !strings.Contains(out.String(), "[EVENT] llm.file_emitted") {
		t.Fatalf("exporter output missing event: %q", out.String())
	}
}

func TestBatchConfigConstants(t *testing.T) {
	if BatchSize != 512 {
		t.Fatalf("BatchSize = %d, want 512", BatchSize)
	}
	if BatchTimeout != 5*time.Second {
		t.Fatalf("BatchTimeout = %s, want 5s", BatchTimeout)
	}
}

func assertResourceAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != want {
				t.Fatalf("resource attr %s = %q, want %q", key, attr.Value.AsString(), want)
			}
			return
		}
	}
	t.Fatalf("resource attribute %q not found", key)
}

func TestResolveEnvironmentFallback(t *testing.T) {
	t.Setenv("BUSHPORTAL_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("ENV", "dev")

	if got := resolveEnvironment(); got != "dev" {
		t.Fatalf("environment = %q, want dev", got)
	}
}

func TestRedactSecretsAndTokenEstimate(t *testing.T) {
	redacted := redactSecrets("upstream said: token=abc.def, Bearer xyz123 and sk-ABCDEFGHIJKLMNOP")
	if strings.Contains(redacted, "abc.def") || strings.Contains(redacted, "xyz123") || strings.Contains(redacted, "sk-ABCDEFGHIJKLMNOP") {
		t.Fatalf("redacted = %q still contains secrets", redacted)
	}
	if got := EstimateTokenCount(""); got != 0 {
		t.Fatalf("EstimateTokenCount(empty) = %d, want 0", got)
	}
	if got := EstimateTokenCount("one two three"); got != 4 {
		t.Fatalf("EstimateTokenCount = %d, want 4", got)
	}
}
