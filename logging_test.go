package crust_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerConsole(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer

	logger, closer, err := crust.NewLogger(crust.LoggingConfiguration{
		Level:                 "warn",
		ConsoleLoggingEnabled: true,
		EncodeAsJSON:          true,
	}, &console)
	require.NoError(t, err)

	defer closer.Close()

	logger.Info().Msg("hidden")
	logger.Warn().Int32("shard_id", 3).Msg("shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), `"shard_id":3`)
	assert.Contains(t, console.String(), `"message":"shown"`)
}

func TestNewLoggerFile(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()

	logger, closer, err := crust.NewLogger(crust.LoggingConfiguration{
		FileLoggingEnabled: true,
		Directory:          directory,
		Filename:           "crust.log",
		MaxSize:            1,
	}, nil)
	require.NoError(t, err)

	logger.Info().Msg("written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(directory, "crust.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	t.Parallel()

	_, _, err := crust.NewLogger(crust.LoggingConfiguration{Level: "loud"}, nil)
	require.Error(t, err)
}
