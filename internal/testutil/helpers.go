package testutil

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ncolesummers/request-decomposition/pkg/decomposition"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
	"github.com/ncolesummers/request-decomposition/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTimeout provides a standard timeout for test contexts
const TestTimeout = 5 * time.Second

// NewTestContext creates a context with standard test timeout
func NewTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// FixedClock returns a clock that starts at start and advances one second per call
func FixedClock(start time.Time) decomposition.Clock {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(time.Second)
		return now
	}
}

// NewLoginPageGraph builds the "Build a login page" fixture:
//
//	root
//	├── form (intermediate)
//	│   ├── fields (atomic)
//	│   └── submit (atomic)
//	└── auth (atomic)
func NewLoginPageGraph(t *testing.T) *domain.RequestGraph {
	t.Helper()

	clock := decomposition.WithClock(FixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))

	g, err := decomposition.CreateGraph("Build a login page",
		decomposition.WithGraphID("login"), decomposition.WithID("root"), clock)
	mustNoError(t, err)

	g, _, err = decomposition.AddChild(g, "root", "Design form", "UI subtask", []string{"ui"},
		decomposition.WithID("form"), decomposition.WithConfidence(0.8), clock)
	mustNoError(t, err)

	g, _, err = decomposition.AddChild(g, "root", "Wire authentication", "Backend subtask", []string{"auth"},
		decomposition.WithID("auth"), decomposition.WithComplexity(3), clock)
	mustNoError(t, err)

	g, err = decomposition.Promote(g, "form")
	mustNoError(t, err)

	g, _, err = decomposition.AddChild(g, "form", "Username and password fields", "", []string{"ui"},
		decomposition.WithID("fields"), clock)
	mustNoError(t, err)

	g, _, err = decomposition.AddChild(g, "form", "Submit button", "", nil,
		decomposition.WithID("submit"), clock)
	mustNoError(t, err)

	return g
}

// NewTestVocabulary returns a vocabulary defining the "ui" and "auth" terms
func NewTestVocabulary(t *testing.T) *decomposition.Vocabulary {
	t.Helper()

	v := decomposition.NewVocabulary()
	_, err := v.AddTerm(domain.DomainTerm{
		ID:         "ui",
		Term:       "User interface",
		Definition: "Visual elements a user interacts with",
		Domain:     "frontend",
		Context:    []string{"Design form"},
	})
	mustNoError(t, err)

	_, err = v.AddTerm(domain.DomainTerm{
		ID:         "auth",
		Term:       "Authentication",
		Definition: "Verifying who a user is",
		Domain:     "security",
	})
	mustNoError(t, err)
	return v
}

func mustNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("fixture setup failed: %v", err)
	}
}

// NewTestLogger returns a logger writing to the returned buffer
func NewTestLogger(component string) (*observability.StructuredLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger, err := observability.NewStructuredLoggerWithOptions(component, observability.LoggerOptions{
		Level:  "debug",
		Format: "json",
		Output: buf,
	})
	if err != nil {
		panic(err)
	}
	return logger, buf
}

// SetupTestTelemetry creates test telemetry with span recorder and metric reader
func SetupTestTelemetry(spanRecorder *tracetest.SpanRecorder, metricReader metric.Reader) *observability.Telemetry {
	tracerProvider := trace.NewTracerProvider(
		trace.WithSpanProcessor(spanRecorder),
	)
	otel.SetTracerProvider(tracerProvider)

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metricReader),
	)
	otel.SetMeterProvider(meterProvider)

	return observability.NewTelemetryWithProviders(&observability.TelemetryConfig{
		ServiceName:    "test-service",
		ServiceVersion: "test",
		Environment:    "test",
	}, tracerProvider, meterProvider)
}
