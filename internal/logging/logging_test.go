package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	quiet, err := New(false)
	if err != nil {
		t.Fatalf("New(false) failed: %v", err)
	}
	if quiet.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug to be disabled without verbose")
	}

	loud, err := New(true)
	if err != nil {
		t.Fatalf("New(true) failed: %v", err)
	}
	if !loud.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug to be enabled with verbose")
	}
}
