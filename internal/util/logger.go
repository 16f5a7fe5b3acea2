package util

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "otp-service"

var (
	globalLogger *zap.Logger
	level        = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	once         sync.Once
)

// Init builds the process logger once. Production gets sampled JSON with
// ISO8601 timestamps; everything else gets colored console output unless
// format asks for json. Later calls return the first logger.
func Init(environment, logLevel, format string) *zap.Logger {
	once.Do(func() {
		level.SetLevel(parseLogLevel(logLevel))

		var encCfg zapcore.EncoderConfig
		if environment == "production" {
			encCfg = zap.NewProductionEncoderConfig()
			encCfg.TimeKey = "timestamp"
			encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		} else {
			encCfg = zap.NewDevelopmentEncoderConfig()
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		var encoder zapcore.Encoder
		if format == "json" || environment == "production" {
			encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
			encoder = zapcore.NewJSONEncoder(encCfg)
		} else {
			encoder = zapcore.NewConsoleEncoder(encCfg)
		}

		core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
		opts := []zap.Option{
			zap.AddCaller(),
			zap.AddCallerSkip(1),
			zap.ErrorOutput(zapcore.Lock(os.Stderr)),
			zap.Fields(zap.String("service", serviceName)),
		}
		if environment == "production" {
			core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)
		} else {
			opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel), zap.Development())
		}

		globalLogger = zap.New(core, opts...)
		zap.ReplaceGlobals(globalLogger)
	})

	return globalLogger
}

// Get returns the process logger, initializing a production one on first
// use when Init was never called.
func Get() *zap.Logger {
	if globalLogger == nil {
		return Init("production", "info", "json")
	}
	return globalLogger
}

// SetLevel changes verbosity at runtime.
func SetLevel(logLevel string) {
	level.SetLevel(parseLogLevel(logLevel))
}

// SetForTest swaps the global logger and returns a restore func.
func SetForTest(logger *zap.Logger) func() {
	once.Do(func() {})
	prev := globalLogger
	globalLogger = logger
	return func() { globalLogger = prev }
}

// Sync flushes any buffered log entries
func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

func parseLogLevel(logLevel string) zapcore.Level {
	if logLevel == "warning" {
		return zapcore.WarnLevel
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(logLevel)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func Debug(msg string, fields ...zap.Field) {
	Get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Get().Fatal(msg, fields...)
}

// Field helpers keep call sites free of direct zap imports.

func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func Int64(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// Phone masks the number before it reaches any log sink.
func Phone(value string) zap.Field {
	return zap.String("phone", MaskPhone(value))
}

// Purpose tags a log line with the verification purpose.
func Purpose(value string) zap.Field {
	return zap.String("purpose", value)
}

func Any(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}
