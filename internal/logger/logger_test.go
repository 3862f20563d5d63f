package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_LevelFollowsEnv(t *testing.T) {
	prod, err := New("bet-ledger", "production")
	if err != nil {
		t.Fatal(err)
	}
	if prod.Core().Enabled(zapcore.DebugLevel) {
		t.Error("production logger should not emit debug lines")
	}

	dev, err := New("bet-ledger", "local")
	if err != nil {
		t.Fatal(err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Error("local logger should emit debug lines")
	}
}
