package cllog

import (
	"os"
	"path/filepath"
	"pixeltrack/internal/models/clconfig"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestExtractLevelFromJSON(t *testing.T) {
	assert.Equal(t, "warn", extractLevelFromJSON(`{"level":"warn","message":"x"}`))
	assert.Equal(t, "", extractLevelFromJSON(`{"message":"x"}`))
	assert.Equal(t, "", extractLevelFromJSON(`{"level":"warn`))
}

func TestInitLoggerWithFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "pixeltrack.log")
	previous := log.Logger
	t.Cleanup(func() {
		log.Logger = previous
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	InitLogger(clconfig.LoggerConfig{
		Level: "info",
		File:  clconfig.LoggerFileConfig{Enable: true, Path: logFile, MaxSize: 1},
	}, true)
	logger := Component("test")
	logger.Info().Msg("hello")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"service":"pixeltrack"`)
}
