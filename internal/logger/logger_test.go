package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewHonoursLevel(t *testing.T) {
	l, err := New("prod", "warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))

	l, err = New("dev", "debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	l := Must("dev", "loud")
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}
