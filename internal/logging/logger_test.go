package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Named("orchestrator").Debug("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Production keeps debug chatter out of the pipeline.
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Named("api").Info("production logger ready")
}
