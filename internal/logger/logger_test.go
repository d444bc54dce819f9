package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "memory.log")
	l, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	log := l.With("writer")
	log.Info().Str("persona_id", "p1").Msg("ingested")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"writer"`)
	assert.Contains(t, string(data), `"persona_id":"p1"`)
}

func TestNewLevelFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.log")
	l, err := New(Config{Level: "nonsense", File: path})
	require.NoError(t, err)
	defer l.Close()

	z := l.Zerolog()
	z.Debug().Msg("hidden")
	z.Info().Msg("shown")

	data, _ := os.ReadFile(path)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
