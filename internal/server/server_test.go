package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
)

func TestNewLogger(t *testing.T) {
	var obs config.ObservabilityConfig
	obs.Logging.Level = "warn"
	obs.Logging.Format = "console"

	logger, err := NewLogger(obs)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	obs.Logging.Level = "loud"
	_, err = NewLogger(obs)
	assert.Error(t, err)
}
