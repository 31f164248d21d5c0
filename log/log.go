package log

import (
	l "log"
	"os"
	"strings"
)

// LogLevel orders the verbosity tiers. A level enables itself and every
// tier below it.
type LogLevel int

const (
	NoneLevel LogLevel = iota
	ErrorLevel
	InfoLevel
	TraceLevel
)

// Level is the active verbosity. Logging is off until SetLevel is
// called or the GOBOLT_LOG environment variable is set.
var Level = NoneLevel

var sinks = map[LogLevel]*l.Logger{
	ErrorLevel: l.New(os.Stderr, "[BOLT][ERROR]", l.LstdFlags),
	InfoLevel:  l.New(os.Stderr, "[BOLT][INFO]", l.LstdFlags),
	TraceLevel: l.New(os.Stderr, "[BOLT][TRACE]", l.LstdFlags),
}

func init() {
	if lvl := os.Getenv("GOBOLT_LOG"); lvl != "" {
		SetLevel(lvl)
	}
}

// SetLevel sets the verbosity by name: "error", "info" or "trace". Any
// other name turns logging off.
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "trace":
		Level = TraceLevel
	case "info":
		Level = InfoLevel
	case "error":
		Level = ErrorLevel
	default:
		Level = NoneLevel
	}
}

func emit(lvl LogLevel, msg string, args []interface{}) {
	if Level >= lvl {
		sinks[lvl].Printf(msg, args...)
	}
}

func Tracef(msg string, args ...interface{}) {
	emit(TraceLevel, msg, args)
}

func Infof(msg string, args ...interface{}) {
	emit(InfoLevel, msg, args)
}

func Errorf(msg string, args ...interface{}) {
	emit(ErrorLevel, msg, args)
}
