package utils

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode enables debug level", func(t *testing.T) {
		logger, err := NewLogger(true, "tabdoc")
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if !logger.Core().Enabled(zap.DebugLevel) {
			t.Error("debug logger should enable debug level")
		}
		_ = logger.Sync()
	})

	t.Run("production mode logs info and above", func(t *testing.T) {
		logger, err := NewLogger(false, "")
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger.Core().Enabled(zap.DebugLevel) {
			t.Error("production logger should not enable debug level")
		}
		if !logger.Core().Enabled(zap.InfoLevel) {
			t.Error("production logger should enable info level")
		}
		_ = logger.Sync()
	})
}

func TestCLILogger(t *testing.T) {
	if CLILogger(false).Core().Enabled(zap.InfoLevel) {
		t.Error("CLI logger should be quiet below warn")
	}
	if !CLILogger(true).Core().Enabled(zap.DebugLevel) {
		t.Error("CLI logger in debug mode should enable debug level")
	}
}
