package logger

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// New returns an info level JSON logger writing to every writer.
func New(writers ...io.Writer) Logger {
	return NewWithLevel(InfoLevel, writers...)
}

// NewWithLevel is New with the minimum level set. The level can be moved later with SetLevel.
func NewWithLevel(lvl Level, writers ...io.Writer) Logger {
	level := zap.NewAtomicLevelAt(toZapLevel(lvl))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := make([]zapcore.Core, 0, len(writers))
	for _, w := range writers {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), level))
	}

	// skip one frame so the caller of Info/Warn is reported, not this wrapper
	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{z: z, level: level}
}

// Nop discards everything. Used by tests and the CLI.
func Nop() Logger {
	return &zapLogger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(zap.InfoLevel)}
}

// Initialize sets the process logger once; later calls are ignored.
// Without writers it logs to stdout.
func Initialize(lvl Level, writers ...io.Writer) {
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}
	initOnce.Do(func() {
		globalLogger = NewWithLevel(lvl, writers...)
	})
}

// Global returns the process logger, falling back to info on stdout.
func Global() Logger {
	Initialize(InfoLevel)
	return globalLogger
}

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Time(key string, value time.Time) Field { return Field{Key: key, Value: value} }

func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Duration is logged in its String form ("1.5s") rather than as nanoseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error always uses the "error" key. A nil error becomes an empty string.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZapFields(fields)...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, toZapFields(fields)...) }
func (l *zapLogger) Panic(msg string, fields ...Field) { l.z.Panic(msg, toZapFields(fields)...) }

// With returns a child logger that shares the parent's level.
func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...), level: l.level}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

func (l *zapLogger) SetLevel(level Level) {
	l.level.SetLevel(toZapLevel(level))
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zap.DebugLevel
	case WarnLevel:
		return zap.WarnLevel
	case ErrorLevel:
		return zap.ErrorLevel
	case PanicLevel:
		return zap.PanicLevel
	case FatalLevel:
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}
