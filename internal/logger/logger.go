// Package logger provides the process-wide structured logger used by every
// Citadel package and command. It mirrors the teacher's sugared-zap wrapper:
// a lazily built singleton plus package-level Infof/Debugf/Warnf/Errorf
// convenience functions.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once sync.Once
	base *zap.SugaredLogger
	mu   sync.Mutex
)

// Logger returns the process-wide sugared logger, building it on first use.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		base = build(false)
	})
	mu.Lock()
	defer mu.Unlock()
	return base
}

// SetVerbose rebuilds the logger at debug level. Called once at startup from
// the cmdline's citadel.verbose / citadel.debug flags.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	base = build(verbose)
}

func build(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.TimeKey = "" // boot/daemon logs go to the kernel ring buffer's own timestamps
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap's production config never fails to build in practice; fall back
		// to a no-op logger rather than panic in a boot-critical path.
		l = zap.NewNop()
	}
	return l.Sugar()
}

func Infof(template string, args ...interface{})  { Logger().Infof(template, args...) }
func Debugf(template string, args ...interface{}) { Logger().Debugf(template, args...) }
func Warnf(template string, args ...interface{})  { Logger().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { Logger().Errorf(template, args...) }
func Info(args ...interface{})                    { Logger().Info(args...) }
func Warn(args ...interface{})                    { Logger().Warn(args...) }
