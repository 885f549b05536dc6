// ABOUTME: Leveled logger interface the embedder injects into the registry
// ABOUTME: Defaults to a nop logger; the collector never owns a log sink

package gc

// LogLevel gates logger output.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// Logger receives scheduling decisions, collection reasons and sweep
// results. The embedder routes it wherever its host logs go.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// nopLogger discards everything; the default when nothing is injected.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// LeveledLogger adapts a printf-style sink into a level-gated Logger.
type LeveledLogger struct {
	Level LogLevel
	Sink  func(level LogLevel, format string, args ...any)
}

func (l *LeveledLogger) log(level LogLevel, format string, args ...any) {
	if l.Sink != nil && l.Level >= level {
		l.Sink(level, format, args...)
	}
}

func (l *LeveledLogger) Debugf(format string, args ...any) {
	l.log(LogLevelDebug, format, args...)
}

func (l *LeveledLogger) Infof(format string, args ...any) {
	l.log(LogLevelInfo, format, args...)
}

func (l *LeveledLogger) Warnf(format string, args ...any) {
	l.log(LogLevelWarn, format, args...)
}

func (l *LeveledLogger) Errorf(format string, args ...any) {
	l.log(LogLevelError, format, args...)
}
