// Package logger provides structured logging using zap.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger instance. It discards everything until Init is called.
var Log = zap.NewNop()

// Sugar is the sugared logger for convenient logging.
var Sugar = Log.Sugar()

// FileConfig holds file logging configuration.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileConfig returns default file logging settings.
func DefaultFileConfig(path string) FileConfig {
	return FileConfig{
		Path:       path,
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// Config selects the level, encoding and outputs of the global logger.
type Config struct {
	Level  string
	Format string // "console" (default) or "json"
	// Components overrides Level per named component. A logger named
	// "stage.visual" uses the override for "visual", else for "stage".
	Components map[string]string
	File       FileConfig
	Console    bool
}

// Init initializes the logger with the given level and optional file output.
func Init(level string, logFile string) error {
	cfg := Config{Level: level, Console: true}
	if logFile != "" {
		cfg.File = DefaultFileConfig(logFile)
	}
	return InitWithConfig(cfg)
}

// InitWithFileConfig initializes the logger with custom file configuration.
// Set consoleOutput to false to disable console logging (useful for tests).
func InitWithFileConfig(level string, fileCfg FileConfig, consoleOutput bool) error {
	return InitWithConfig(Config{Level: level, File: fileCfg, Console: consoleOutput})
}

// InitWithConfig replaces the global logger.
func InitWithConfig(cfg Config) error {
	switch cfg.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logger: unknown format %q", cfg.Format)
	}
	base := parseLevel(cfg.Level)
	overrides := make(map[string]zapcore.Level, len(cfg.Components))
	lowest := base
	for name, level := range cfg.Components {
		lvl := parseLevel(level)
		overrides[name] = lvl
		lowest = min(lowest, lvl)
	}

	var cores []zapcore.Core

	if cfg.Console {
		enc := newEncoder(cfg.Format, zapcore.TimeEncoderOfLayout("15:04:05"), zapcore.CapitalColorLevelEncoder)
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), lowest))
	}

	if cfg.File.Path != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
			LocalTime:  true,
		}
		enc := newEncoder(cfg.Format, zapcore.ISO8601TimeEncoder, zapcore.CapitalLevelEncoder)
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(fileWriter), lowest))
	}

	core := zapcore.NewTee(cores...)
	if len(overrides) > 0 {
		core = &componentCore{Core: core, base: base, overrides: overrides}
	}
	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()

	return nil
}

func newEncoder(format string, timeEnc zapcore.TimeEncoder, levelEnc zapcore.LevelEncoder) zapcore.Encoder {
	if format == "json" {
		// Color codes would end up inside JSON strings.
		return zapcore.NewJSONEncoder(encoderConfig(zapcore.ISO8601TimeEncoder, zapcore.LowercaseLevelEncoder))
	}
	return zapcore.NewConsoleEncoder(encoderConfig(timeEnc, levelEnc))
}

// componentCore filters entries by the level of their innermost named
// component that has an override.
type componentCore struct {
	zapcore.Core
	base      zapcore.Level
	overrides map[string]zapcore.Level
}

func (c *componentCore) With(fields []zapcore.Field) zapcore.Core {
	return &componentCore{Core: c.Core.With(fields), base: c.base, overrides: c.overrides}
}

func (c *componentCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.levelOf(ent.LoggerName).Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (c *componentCore) levelOf(name string) zapcore.Level {
	parts := strings.Split(name, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if lvl, ok := c.overrides[parts[i]]; ok {
			return lvl
		}
	}
	return c.base
}

// ValidLevel reports whether level names a supported level.
func ValidLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func encoderConfig(timeEnc zapcore.TimeEncoder, levelEnc zapcore.LevelEncoder) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		CallerKey:        "caller",
		EncodeTime:       timeEnc,
		EncodeLevel:      levelEnc,
		EncodeName:       zapcore.FullNameEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: " ",
	}
}

// parseLevel converts a string level to zapcore.Level.
func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Named returns a child of the global logger for one component.
// Components capture it at construction, so call Init first.
func Named(component string) *zap.Logger {
	return Log.Named(component)
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Log.Sync()
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	Log.Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	Log.Error(msg, fields...)
}

// Fatal logs a fatal message and exits.
func Fatal(msg string, fields ...zap.Field) {
	Log.Fatal(msg, fields...)
}
