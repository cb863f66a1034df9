package obs

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log line, lowest first.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

// Field is a single structured key=value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

func (f Field) format() string {
	return fmt.Sprintf("%s=%v", f.Key, f.Value)
}

func String(k, v string) Field             { return Field{k, v} }
func Int(k string, v int) Field            { return Field{k, v} }
func Uint32(k string, v uint32) Field      { return Field{k, v} }
func Uint64(k string, v uint64) Field      { return Field{k, v} }
func Float64(k string, v float64) Field    { return Field{k, v} }
func Bool(k string, v bool) Field          { return Field{k, v} }
func Duration(k string, v time.Duration) Field { return Field{k, v} }

func Err(err error) Field {
	if err == nil {
		return Field{"error", "<nil>"}
	}
	return Field{"error", err.Error()}
}

// Logger is a small leveled, structured logger in the teacher's idiom: a
// component-scoped writer with With()-chained fields, no third-party
// backend.
type Logger struct {
	mu        sync.Mutex
	level     LogLevel
	component string
	output    *os.File
	fields    []Field
}

type LoggerConfig struct {
	Level     LogLevel
	Component string
	Output    *os.File
}

func NewLogger(cfg LoggerConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{level: cfg.Level, component: cfg.Component, output: out}
}

func DefaultLogger(component string) *Logger {
	return NewLogger(LoggerConfig{Level: LevelInfo, Component: component})
}

// With returns a derived logger carrying the given fields on every line.
func (l *Logger) With(fields ...Field) *Logger {
	n := &Logger{level: l.level, component: l.component, output: l.output}
	n.fields = append(append([]Field{}, l.fields...), fields...)
	return n
}

func (l *Logger) log(level LogLevel, msg string, fields ...Field) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	b.WriteByte(' ')
	b.WriteString("[" + levelNames[level] + "]")
	if l.component != "" {
		b.WriteString(" [" + l.component + "]")
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range l.fields {
		b.WriteByte(' ')
		b.WriteString(f.format())
	}
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.format())
	}
	fmt.Fprintln(l.output, b.String())

	if level == LevelFatal {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.log(LevelFatal, msg, fields...) }

var (
	globalMu     sync.RWMutex
	globalLogger = DefaultLogger("tracecore")
)

func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}
