package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	logger := New(&Config{Level: "warn", Format: "json", Output: "discard"})
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger = New(nil)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestRequestIDContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	logger := FromContext(ctx)
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)

	assert.Equal(t, "", RequestID(context.Background()))
	assert.Equal(t, zerolog.Disabled, FromContext(context.Background()).GetLevel())
}
