package ledio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSinkWritesLowercaseMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "led_mode")
	sink := NewFileSink(path)

	require.NoError(t, sink.WriteMode("READY"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "ready\n", string(data))
}

func TestFileSinkOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "led_mode")
	sink := NewFileSink(path)

	require.NoError(t, sink.WriteMode("IDLE"))
	require.NoError(t, sink.WriteMode("ERROR"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "error\n", string(data))
}

func TestNoopSinkNeverErrors(t *testing.T) {
	var sink NoopSink
	require.NoError(t, sink.WriteMode("READY"))
}
