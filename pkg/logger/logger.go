package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var zapLevels = map[LogLevel]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
	LevelFatal: zapcore.FatalLevel,
}

// ParseLevel converts a textual level (debug, info, warn, error) into a LogLevel.
// Unknown values map to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger is a structured logger backed by zap
type Logger struct {
	level zap.AtomicLevel
	zap   *zap.Logger
}

// New creates a JSON logger writing to stdout
func New(level LogLevel) *Logger {
	return NewWithFormat(level, "json")
}

// NewWithFormat creates a logger writing to stdout in the given format ("json" or "console")
func NewWithFormat(level LogLevel, format string) *Logger {
	atomic := zap.NewAtomicLevelAt(zapLevels[level])

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	var encoder zapcore.Encoder
	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomic)
	return &Logger{
		level: atomic,
		zap:   zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
	}
}

// NewFromZap wraps an existing zap logger (used by tests with observer cores)
func NewFromZap(z *zap.Logger) *Logger {
	return &Logger{
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
		zap:   z.WithOptions(zap.AddCallerSkip(1)),
	}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{
		level: zap.NewAtomicLevelAt(zapcore.FatalLevel),
		zap:   zap.NewNop(),
	}
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(zapLevels[level])
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.zap.Debug(msg, toZap(fields)...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.zap.Info(msg, toZap(fields)...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.zap.Warn(msg, toZap(fields)...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	l.zap.Error(msg, toZap(fields)...)
}

// Fatal logs a fatal message and exits the program
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.zap.Fatal(msg, toZap(fields)...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// WithContext returns a logger bound to ctx
func (l *Logger) WithContext(ctx context.Context) *ContextLogger {
	return &ContextLogger{
		logger: l,
		ctx:    ctx,
	}
}

// WithFields returns a logger with preset fields
func (l *Logger) WithFields(fields ...Field) *Logger {
	return &Logger{
		level: l.level,
		zap:   l.zap.With(toZap(fields)...),
	}
}

func toZap(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// ContextLogger wraps a logger with a context
type ContextLogger struct {
	logger *Logger
	ctx    context.Context
}

// Debug logs a debug message with context
func (cl *ContextLogger) Debug(msg string, fields ...Field) {
	cl.logger.Debug(msg, cl.withCtx(fields)...)
}

// Info logs an info message with context
func (cl *ContextLogger) Info(msg string, fields ...Field) {
	cl.logger.Info(msg, cl.withCtx(fields)...)
}

// Warn logs a warning message with context
func (cl *ContextLogger) Warn(msg string, fields ...Field) {
	cl.logger.Warn(msg, cl.withCtx(fields)...)
}

// Error logs an error message with context
func (cl *ContextLogger) Error(msg string, fields ...Field) {
	cl.logger.Error(msg, cl.withCtx(fields)...)
}

func (cl *ContextLogger) withCtx(fields []Field) []Field {
	if cl.ctx != nil && cl.ctx.Err() != nil {
		return append(fields, String("ctx_err", cl.ctx.Err().Error()))
	}
	return fields
}

// Field is a logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Error creates an "error" field
func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field of arbitrary type
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}
