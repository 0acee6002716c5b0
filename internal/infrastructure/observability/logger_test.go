package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("warn", LogFormatJSON, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("request_id", "abc").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"request_id":"abc"`)
}

func TestInitLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("info", LogFormatConsole, &buf)
	logger.Info().Str("transaction_id", "t-1").Msg("settled")

	out := buf.String()
	assert.Contains(t, out, "settled")
	assert.Contains(t, out, "transaction_id=")
	assert.NotContains(t, out, `{"level"`)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("bogus"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel(""))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("Warning"))
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel(" debug "))
}

func TestTraceHook_AddsSpanIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "payment.complete")
	defer span.End()

	var buf bytes.Buffer
	logger := InitLogger("info", LogFormatJSON, &buf)

	logger.Info().Ctx(ctx).Msg("traced")
	assert.Contains(t, buf.String(), `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)

	buf.Reset()
	logger.Info().Msg("untraced")
	assert.NotContains(t, buf.String(), "trace_id")
}
