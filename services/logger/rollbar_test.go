package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/shule/core"
)

func newObservedLogger(t *testing.T) (*RollbarLogger, *observer.ObservedLogs) {
	t.Helper()
	zc, logs := observer.New(zapcore.DebugLevel)
	l := NewRollbarLogger(zap.New(zc), &core.Config{Env: "TEST", TestMode: true})
	return l, logs
}

func TestRollbarLogger_Fields(t *testing.T) {
	l, logs := newObservedLogger(t)

	errBoom := errors.New("boom")
	l.Warn("voucher rejected", errBoom, map[string]interface{}{"voucher_number": "RCT-2026-000001"}, Person{ID: "u1"}, 42)

	entries := logs.All()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "voucher rejected", entry.Message)

	ctx := entry.ContextMap()
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, "RCT-2026-000001", ctx["voucher_number"])
	assert.Equal(t, "u1", ctx["person_id"])
	assert.EqualValues(t, 42, ctx["arg3"])
}

func TestRollbarLogger_Levels(t *testing.T) {
	l, logs := newObservedLogger(t)

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	want := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	entries := logs.All()
	require.Len(t, entries, len(want))
	for i, lvl := range want {
		assert.Equal(t, lvl, entries[i].Level)
	}
}

func TestNewZap(t *testing.T) {
	zl, err := NewZap(&core.Config{Env: "PROD", AppName: "Shule", Build: "abc"})
	require.NoError(t, err)
	assert.False(t, zl.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, zl.Core().Enabled(zapcore.InfoLevel))
}
