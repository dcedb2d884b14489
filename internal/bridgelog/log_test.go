package bridgelog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core).Sugar(), logs
}

func TestLogLevels(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)
	restore := SetForTest(l)
	defer restore()

	tests := []struct {
		name  string
		logFn func()
		want  string
	}{
		{"Debug", func() { Debug("debug msg") }, "debug msg"},
		{"Debugf", func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{"Debugw", func() { Debugw("debug kv", "key", "val") }, "debug kv"},
		{"Info", func() { Info("info msg") }, "info msg"},
		{"Infof", func() { Infof("info %s", "formatted") }, "info formatted"},
		{"Infow", func() { Infow("info kv", "key", "val") }, "info kv"},
		{"Warn", func() { Warn("warn msg") }, "warn msg"},
		{"Error", func() { Error("error msg") }, "error msg"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.logFn()
		})
	}

	if logs.Len() != len(tests) {
		t.Fatalf("got %d log entries, want %d", logs.Len(), len(tests))
	}
	for i, tc := range tests {
		if got := logs.All()[i].Message; got != tc.want {
			t.Errorf("entry %d message = %q, want %q", i, got, tc.want)
		}
	}
}

func TestSetForTestRestoresPreviousLogger(t *testing.T) {
	original := logger()

	l, _ := newObserved(zapcore.InfoLevel)
	restore := SetForTest(l)
	if logger() != l {
		t.Fatal("SetForTest did not install the supplied logger")
	}

	restore()
	if logger() != original {
		t.Error("restore() did not reinstate the previous singleton")
	}
}
