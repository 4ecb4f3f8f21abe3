package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init(Config{Level: "loud"}))
}

func TestInitWritesRotatingFiles(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	dir := t.TempDir()
	require.NoError(t, Init(Config{Level: "info", Format: "json", FileEnabled: true, FilePath: dir, ServiceName: "test"}))
	log.Info().Msg("hello")
	log.Error().Msg("broken")

	app, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	require.Contains(t, string(app), "hello")
	require.Contains(t, string(app), `"service":"test"`)

	errs, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	require.Contains(t, string(errs), "broken")
	require.NotContains(t, string(errs), "hello")
}

func TestErrorWriterFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	w := errorWriter{&buf}
	n, err := w.WriteLevel(zerolog.InfoLevel, []byte("info"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Zero(t, buf.Len())

	_, err = w.WriteLevel(zerolog.ErrorLevel, []byte("err"))
	require.NoError(t, err)
	require.Equal(t, "err", buf.String())
}
