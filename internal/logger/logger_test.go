// file: internal/logger/logger_test.go
// version: 1.0.0
// guid: 7a2b9c4d-1e5f-4a6b-8c7d-9e0f1a2b3c4d

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHelpersBeforeInitDoNotPanic(t *testing.T) {
	SetLogger(nil)
	assert.NotPanics(t, func() {
		Info("hello", String("k", "v"))
		Warn("warn", Int("n", 1))
		Error("err", Bool("b", true))
	})
}

func TestSetLoggerCapturesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	Warn("extraction failed", Int64("track_id", 42), String("path", "/music/a.mp3"))

	entries := logs.FilterMessage("extraction failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ContextMap()["track_id"])
	assert.Equal(t, "/music/a.mp3", entries[0].ContextMap()["path"])
}

func TestInitWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dj-tagger.log")
	require.NoError(t, Init(Config{Level: InfoLevel, OutputPath: path, MaxSize: 1}))
	t.Cleanup(func() { SetLogger(nil) })

	Info("written to file")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, DebugLevel.zapLevel())
	assert.Equal(t, zapcore.WarnLevel, WarnLevel.zapLevel())
	assert.Equal(t, zapcore.ErrorLevel, ErrorLevel.zapLevel())
	assert.Equal(t, zapcore.InfoLevel, LogLevel("bogus").zapLevel())
}
