package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestHandlerFormatsAndFilters(t *testing.T) {
	SetLevel("info")
	t.Cleanup(func() { SetLevel("info") })

	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf)).With("endpoint", "conf")

	log.Debug("hidden")
	log.Info("[Connection] State changed", "connection_id", "conf-1", "state", "OPEN")

	line := buf.String()
	require.Regexp(t, regexp.MustCompile(`^\[\d\d:\d\d:\d\d\] \[INFO\] `), line)
	assert.Contains(t, line, "[Connection] State changed endpoint=conf connection_id=conf-1 state=OPEN\n")
	assert.NotContains(t, line, "hidden")

	SetLevel("debug")
	assert.Equal(t, "debug", GetLevel())
	buf.Reset()
	log.Debug("shown")
	assert.Contains(t, buf.String(), "[DEBUG] shown")
}

func TestHandlerWritesEveryOutput(t *testing.T) {
	var a, b bytes.Buffer
	slog.New(NewHandler(&a, nil, &b)).Warn("pool exhausted")
	assert.Contains(t, a.String(), "[WARN] pool exhausted")
	assert.Equal(t, a.String(), b.String())
}
