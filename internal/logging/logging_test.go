// internal/logging/logging_test.go
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	defer Set(zap.NewNop())

	for _, mode := range []string{"release", "debug"} {
		if err := Init(mode); err != nil {
			t.Fatalf("Init(%q) failed: %v", mode, err)
		}
	}

	if !L().Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug level to be enabled in development mode")
	}
}

func TestSet(t *testing.T) {
	defer Set(zap.NewNop())

	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))

	L().Info("hello", zap.String("k", "v"))
	if logs.Len() != 1 || logs.All()[0].Message != "hello" {
		t.Errorf("Expected one 'hello' entry, got %v", logs.All())
	}
}
