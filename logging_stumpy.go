package asyncoro

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// stumpyLogger wraps a logiface.Logger[*stumpy.Event] to satisfy
// logifaceSink, so NewStumpyLogger can hand back a plain Logger without
// exposing the generic logiface types at call sites.
type stumpyLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// stumpyLevel maps this package's LogLevel onto logiface's syslog-derived
// Level scale, picking the closest syslog severity for each.
func stumpyLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func (s *stumpyLogger) IsEnabled(level int) bool {
	return s.l.Level() >= stumpyLevel(LogLevel(level))
}

func (s *stumpyLogger) Log(level int, fields map[string]any, message string) {
	b := s.l.Build(stumpyLevel(LogLevel(level)))
	if b == nil {
		return
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			b = b.Err(err)
			continue
		}
		b = b.Any(k, v)
	}
	b.Log(message)
}

// NewStumpyLogger builds a Logger backed by a stumpy JSON writer, wired
// through logiface.Logger. It is the default non-trivial Logger offered by
// this package; NewWriterLogger remains for callers that want plain text
// without the logiface/stumpy dependency pair.
func NewStumpyLogger(w io.Writer, level LogLevel) *LogifaceAdapter {
	l := logiface.New[*stumpy.Event](
		logiface.WithLevel[*stumpy.Event](stumpyLevel(level)),
		stumpy.WithStumpy(stumpy.WithWriter(w)),
	)
	return NewLogifaceAdapter(&stumpyLogger{l: l})
}
