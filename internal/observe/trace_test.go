package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := map[string]bool{}
	for range 50 {
		ctx, span := StartSpan(context.Background(), "call.connect")
		id := CorrelationID(ctx)
		span.End()
		if len(id) != 32 || strings.Trim(id, "0123456789abcdef") != "" {
			t.Fatalf("CorrelationID = %q, want 32 hex digits", id)
		}
		if seen[id] {
			t.Fatalf("duplicate correlation id %s", id)
		}
		seen[id] = true
	}
}

func TestStartCharacterSpan(t *testing.T) {
	exp := useTracer(t)
	_, span := StartCharacterSpan(context.Background(), "speech.speak", "kratos")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "speech.speak" {
		t.Fatalf("spans = %v, want one speech.speak", spans)
	}
	var got string
	for _, kv := range spans[0].Attributes {
		if kv.Key == "character.id" {
			got = kv.Value.AsString()
		}
	}
	if got != "kratos" {
		t.Errorf("character.id = %q, want kratos", got)
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	tests := []struct {
		name    string
		ctx     func() context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "no span",
			ctx:     context.Background,
			notWant: []string{"trace_id", "character"},
		},
		{
			name: "plain span",
			ctx: func() context.Context {
				ctx, _ := StartSpan(context.Background(), "chat.reply")
				return ctx
			},
			want:    []string{"trace_id=", "span_id="},
			notWant: []string{"character"},
		},
		{
			name: "character span",
			ctx: func() context.Context {
				ctx, _ := StartCharacterSpan(context.Background(), "chat.reply", "rei")
				return ctx
			},
			want: []string{"trace_id=", "span_id=", "character=rei"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx()).Info("reply ready")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q contains %q", out, w)
				}
			}
		})
	}
}

func TestProviderConfigSampler(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 0, want: "AlwaysOnSampler"},
		{ratio: 1, want: "AlwaysOnSampler"},
		{ratio: 0.25, want: "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := ProviderConfig{SampleRatio: tt.ratio}.sampler().Description()
		if !strings.Contains(desc, tt.want) {
			t.Errorf("sampler(%v) = %q, want it to contain %q", tt.ratio, desc, tt.want)
		}
	}
}
