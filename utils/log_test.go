package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"trace":    TRACE,
		"DEBUG":    DEBUG,
		" info ":   INFO,
		"warning":  WARN,
		"error":    ERROR,
		"critical": CRITICAL,
		"bogus":    INFO,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLoggerFiltersAndTags(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(INFO, &buf)

	log.Debug("hidden %d", 1)
	log.Named("motor").Named("pid").Warn("error=%.2f", 0.5)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] motor.pid: error=0.50")
	assert.Equal(t, 1, strings.Count(out, "\n"))

	log.SetMinLevel(TRACE)
	assert.True(t, log.Enabled(TRACE))
	log.Trace("visible")
	assert.Contains(t, buf.String(), "[TRACE] visible")
}

func TestNopLogger(t *testing.T) {
	log := Nop()
	assert.False(t, log.Enabled(CRITICAL))
	log.Critical("nothing")
	assert.NoError(t, log.Close())
}
