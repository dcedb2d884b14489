// Package bridgelog is the package-level structured logging facade used
// throughout mcpbridge, mirroring the call shape of the teacher's
// pkg/logger: one singleton, package functions in Debug/Debugf/Debugw
// triads per level, swappable for tests.
package bridgelog

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	Initialize()
}

// Initialize installs the default production logger: JSON to stderr at
// info level, or console-encoded debug output when MCPBRIDGE_DEBUG is set.
func Initialize() {
	var cfg zap.Config
	if os.Getenv("MCPBRIDGE_DEBUG") != "" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		// Logging must never be fatal to the process; fall back to a
		// no-op logger rather than panic.
		l = zap.NewNop()
	}
	singleton.Store(l.Sugar())
}

// SetForTest installs a caller-supplied logger, returning a restore func.
// Intended for use from tests that need to assert on log output.
func SetForTest(l *zap.SugaredLogger) (restore func()) {
	prev := singleton.Load()
	singleton.Store(l)
	return func() { singleton.Store(prev) }
}

func logger() *zap.SugaredLogger { return singleton.Load() }

// Debug logs at debug level.
func Debug(args ...any) { logger().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(template string, args ...any) { logger().Debugf(template, args...) }

// Debugw logs a message with structured key/value pairs at debug level.
func Debugw(msg string, kv ...any) { logger().Debugw(msg, kv...) }

// Info logs at info level.
func Info(args ...any) { logger().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(template string, args ...any) { logger().Infof(template, args...) }

// Infow logs a message with structured key/value pairs at info level.
func Infow(msg string, kv ...any) { logger().Infow(msg, kv...) }

// Warn logs at warn level.
func Warn(args ...any) { logger().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(template string, args ...any) { logger().Warnf(template, args...) }

// Warnw logs a message with structured key/value pairs at warn level.
func Warnw(msg string, kv ...any) { logger().Warnw(msg, kv...) }

// Error logs at error level.
func Error(args ...any) { logger().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(template string, args ...any) { logger().Errorf(template, args...) }

// Errorw logs a message with structured key/value pairs at error level.
func Errorw(msg string, kv ...any) { logger().Errorw(msg, kv...) }
