package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Zerolog field implementations
func (f StringField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Str(f.Key, f.Value)
}

func (f IntField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Int(f.Key, f.Value)
}

func (f Int64Field) apply(event *zerolog.Event) *zerolog.Event {
	return event.Int64(f.Key, f.Value)
}

func (f BoolField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Bool(f.Key, f.Value)
}

func (f DurationField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Dur(f.Key, f.Value)
}

func (f TimeField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Time(f.Key, f.Value)
}

func (f ErrorField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Err(f.Value)
}

func (f AnyField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Interface(f.Key, f.Value)
}

// Config controls the output of a ZerologLogger.
type Config struct {
	Level LogLevel

	// LogFile, when set, sends output through a rotating file writer
	// instead of stderr.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Pretty enables the human-readable console writer.
	Pretty bool
}

// ZerologLogger implements Logger using zerolog
type ZerologLogger struct {
	logger    zerolog.Logger
	level     LogLevel
	subsystem string
}

// NewZerologLogger creates a new ZerologLogger from the given config.
func NewZerologLogger(config *Config) *ZerologLogger {
	if config == nil {
		config = &Config{Level: InfoLevel}
	}

	var out io.Writer = os.Stderr
	if config.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}
	}
	if config.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	zl := zerolog.New(out).Level(toZerologLevel(config.Level)).With().Timestamp().Logger()

	return &ZerologLogger{
		logger: zl,
		level:  config.Level,
	}
}

// NewTestLogger returns a logger suitable for tests: debug level, stderr.
func NewTestLogger() *ZerologLogger {
	return NewZerologLogger(&Config{Level: DebugLevel})
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *ZerologLogger) log(event *zerolog.Event, msg string, fields []TypedField) {
	for _, field := range fields {
		event = field.apply(event)
	}
	event.Msg(msg)
}

func (z *ZerologLogger) Trace(msg string, fields ...TypedField) {
	z.log(z.logger.Trace(), msg, fields)
}

func (z *ZerologLogger) Debug(msg string, fields ...TypedField) {
	z.log(z.logger.Debug(), msg, fields)
}

func (z *ZerologLogger) Info(msg string, fields ...TypedField) {
	z.log(z.logger.Info(), msg, fields)
}

func (z *ZerologLogger) Warn(msg string, fields ...TypedField) {
	z.log(z.logger.Warn(), msg, fields)
}

func (z *ZerologLogger) Error(msg string, fields ...TypedField) {
	z.log(z.logger.Error(), msg, fields)
}

func (z *ZerologLogger) Fatal(msg string, fields ...TypedField) {
	z.log(z.logger.Fatal(), msg, fields)
}

// WithSubsystem returns a derived logger tagged with a subsystem name.
func (z *ZerologLogger) WithSubsystem(name string) Logger {
	sub := name
	if z.subsystem != "" {
		sub = z.subsystem + "." + name
	}
	return &ZerologLogger{
		logger:    z.logger.With().Str("subsystem", sub).Logger(),
		level:     z.level,
		subsystem: sub,
	}
}

// WithFields returns a derived logger with the fields attached to every event.
func (z *ZerologLogger) WithFields(fields ...TypedField) Logger {
	ctx := z.logger.With()
	for _, field := range fields {
		switch f := field.(type) {
		case StringField:
			ctx = ctx.Str(f.Key, f.Value)
		case IntField:
			ctx = ctx.Int(f.Key, f.Value)
		case Int64Field:
			ctx = ctx.Int64(f.Key, f.Value)
		case BoolField:
			ctx = ctx.Bool(f.Key, f.Value)
		case DurationField:
			ctx = ctx.Dur(f.Key, f.Value)
		case TimeField:
			ctx = ctx.Time(f.Key, f.Value)
		case ErrorField:
			ctx = ctx.AnErr(f.Key, f.Value)
		case AnyField:
			ctx = ctx.Interface(f.Key, f.Value)
		}
	}
	return &ZerologLogger{
		logger:    ctx.Logger(),
		level:     z.level,
		subsystem: z.subsystem,
	}
}

func (z *ZerologLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= z.level
}
