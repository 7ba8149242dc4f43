package logging

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewDefaultsToStdoutWithNoCloser(t *testing.T) {
	logger, closer, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if closer != nil {
		t.Error("stdout output should not return a closer")
	}
	if logger.Core().Enabled(zapcore.InfoLevel) != true {
		t.Error("default level should enable Info")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("default level should not enable Debug")
	}
}

func TestNewDebugLevelEnablesDebug(t *testing.T) {
	logger, _, err := New(Config{Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should enable Debug")
	}
}

func TestNewFileOutputReturnsCloser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	_, closer, err := New(Config{Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if closer == nil {
		t.Fatal("file output should return a non-nil closer")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("closer.Close: %v", err)
	}
}

func TestSetGlobalAndGlobal(t *testing.T) {
	original := Global()
	defer SetGlobal(original)

	replacement, _, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	SetGlobal(replacement)
	if Global() != replacement {
		t.Error("Global() should return the logger installed via SetGlobal")
	}
}

func TestPackageLevelHelpersDoNotPanic(t *testing.T) {
	original := Global()
	defer SetGlobal(original)

	logger, _, err := New(Config{Output: "stderr"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	SetGlobal(logger)

	Info("info message")
	Warn("warn message")
	Error("error message")
	Debug("debug message")
	With().Info("with message")
	Sync()
}
