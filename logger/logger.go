package logger

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Log is the global logger instance
	Log = zap.NewNop()
)

// previewLimit caps how much of a raw payload ends up in a log line.
const previewLimit = 256

// Initialize sets up the logger with the specified environment
func Initialize(env string) {
	InitializeWithWriter(env, nil)
}

// InitializeWithWriter sets up the logger with the specified environment and optional CloudWatch writer
func InitializeWithWriter(env string, cloudWatchWriter io.Writer) {
	config := newConfig(env)

	if cloudWatchWriter != nil {
		jsonEncoder := zapcore.NewJSONEncoder(config.EncoderConfig)
		consoleEncoder := zapcore.NewConsoleEncoder(config.EncoderConfig)

		consoleCore := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(config.Level.Level()))
		cwCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(cloudWatchWriter), zap.NewAtomicLevelAt(config.Level.Level()))

		Log = zap.New(zapcore.NewTee(consoleCore, cwCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		return
	}

	l, err := config.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	Log = l
}

func newConfig(env string) zap.Config {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return config
}

// Named returns a child of the global logger for one component.
func Named(component string) *zap.Logger {
	return Log.Named(component)
}

// Payload renders a truncated payload field for drop/decode logs.
func Payload(raw []byte) zap.Field {
	if len(raw) <= previewLimit {
		return zap.ByteString("payload", raw)
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return zap.String("payload", string(raw[:cut])+"…")
}

// Sync flushes the global logger, ignoring the EINVAL stdout returns on some platforms.
func Sync() {
	_ = Log.Sync()
}
