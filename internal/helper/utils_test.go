package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialog-rag/internal/config"
)

func TestRequestIDIsUUID(t *testing.T) {
	a, b := RequestID(), RequestID()
	_, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCreateFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(dir))
	require.NoError(t, CreateFolder(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.False(t, FileExists(dir))
}

func TestSetupLoggerWritesFile(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	})

	dir := t.TempDir()
	closer, err := SetupLogger(config.LogConfig{Level: "info", Dir: dir, File: "chat.log", MaxSizeMB: 1})
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Str("user_id", "42").Msg("visible")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "chat.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible")
	assert.Contains(t, string(data), `"user_id":"42"`)
	assert.NotContains(t, string(data), "hidden")
	assert.True(t, FileExists(filepath.Join(dir, "chat.log")))
}
