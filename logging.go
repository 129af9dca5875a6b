package asyncoro

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel is the severity of a log entry.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// LogEntry is a structured record emitted by the scheduler, notifier, or
// distributed layer.
type LogEntry struct {
	Level     LogLevel
	Component string // "scheduler", "notifier", "discovery"
	CoroID    int64
	Message   string
	Err       error
	Context   map[string]any
	Timestamp time.Time
}

// Logger is the structured logging interface threaded through Scheduler,
// Notifier, and the distributed Node. A caller who wants logiface+stumpy
// output implements this interface by wrapping a logiface.Logger[E]; see
// NewLogifaceAdapter below for the shape such a wrapper takes.
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// NoOpLogger discards everything; it is the default when no Logger option
// is supplied.
type NoOpLogger struct{}

func (NoOpLogger) Log(LogEntry) {}

func (NoOpLogger) IsEnabled(LogLevel) bool { return false }

// WriterLogger is a small built-in text logger suitable for tests and
// simple CLI usage, writing one line per entry via the supplied sink.
type WriterLogger struct {
	level atomic.Int32
	mu    sync.Mutex
	sink  func(string)
}

// NewWriterLogger builds a WriterLogger at the given minimum level, calling
// sink once per emitted line (sink receives no trailing newline).
func NewWriterLogger(level LogLevel, sink func(string)) *WriterLogger {
	l := &WriterLogger{sink: sink}
	l.level.Store(int32(level))
	return l
}

func (l *WriterLogger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

func (l *WriterLogger) IsEnabled(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

func (l *WriterLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] [%s] [%-11s] %s",
		entry.Level, entry.Timestamp.Format("15:04:05.000"), entry.Component, entry.Message)
	if entry.CoroID != 0 {
		line += fmt.Sprintf(" coro=%d", entry.CoroID)
	}
	for k, v := range entry.Context {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	if entry.Err != nil {
		line += fmt.Sprintf(" err=%v", entry.Err)
	}
	l.sink(line)
}

// LogifaceEvent is the minimal event surface NewLogifaceAdapter needs from
// a logiface.Event implementation: enough to carry a level, a message, and
// key/value context through to whatever backend (stumpy, zerolog, logrus)
// the caller configured their logiface.Logger with.
type LogifaceEvent interface {
	Str(key, val string)
}

// logifaceSink is satisfied by the stumpyLogger wrapper in
// logging_stumpy.go, which forwards to a logiface.Logger; kept as a narrow
// local interface so this file does not import logiface directly.
type logifaceSink interface {
	IsEnabled(level int) bool
	Log(level int, fields map[string]any, message string)
}

// LogifaceAdapter implements Logger by forwarding to a logiface-backed
// sink, so a caller can construct:
//
//	stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(os.Stdout)))
//
// wrap it to satisfy logifaceSink, and pass the result to WithLogger. The
// sink receives LevelDebug=0 .. LevelError=3; logiface's syslog-style scale
// runs the other way (lower is more severe), and stumpyLevel in
// logging_stumpy.go maps between the two.
type LogifaceAdapter struct {
	sink logifaceSink
}

func NewLogifaceAdapter(sink logifaceSink) *LogifaceAdapter {
	return &LogifaceAdapter{sink: sink}
}

func (a *LogifaceAdapter) IsEnabled(level LogLevel) bool {
	return a.sink.IsEnabled(int(level))
}

func (a *LogifaceAdapter) Log(entry LogEntry) {
	fields := make(map[string]any, len(entry.Context)+2)
	for k, v := range entry.Context {
		fields[k] = v
	}
	fields["component"] = entry.Component
	if entry.CoroID != 0 {
		fields["coro"] = entry.CoroID
	}
	if entry.Err != nil {
		fields["err"] = entry.Err.Error()
	}
	a.sink.Log(int(entry.Level), fields, entry.Message)
}
