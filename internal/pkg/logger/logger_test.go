package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := Global()
	SetGlobal(zap.New(core).Sugar())
	t.Cleanup(func() { SetGlobal(prev) })

	Infof(context.Background(), "hello %s", "world")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello world", logs.All()[0].Message)
}

func TestWith_AttachesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())

	ctx = With(ctx, "conn_id", "abc")
	Warnf(ctx, "slow")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "abc", entry.ContextMap()["conn_id"])
}

func TestInit_RejectsUnknownLevel(t *testing.T) {
	_, err := Init("loud")
	assert.Error(t, err)
}
