package cli

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigureLoggingDebugFlagEnablesDebugLevel(t *testing.T) {
	logger := configureLogging(true)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestConfigureLoggingDefaultsToInfo(t *testing.T) {
	logger := configureLogging(false)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestConfigureLoggingHonorsEnvVar(t *testing.T) {
	t.Setenv("RUNZ_DEBUG", "1")
	logger := configureLogging(false)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
