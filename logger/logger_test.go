package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"trace":   zerolog.TraceLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), "level %q", in)
	}
}

func TestInitWithOptions_File(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	path := filepath.Join(t.TempDir(), "review.log")

	log, err := InitWithOptions(path, false)
	require.NoError(t, err)
	log.Debug().Str("model", "gpt-4o").Msg("probe")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Logger initialized"`)
	assert.Contains(t, string(data), `"model":"gpt-4o"`)
}

func TestInitWithOptions_BadPath(t *testing.T) {
	_, err := InitWithOptions(filepath.Join(t.TempDir(), "missing", "dir", "review.log"), false)
	assert.Error(t, err)
}
