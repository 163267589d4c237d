// Package logging provides leveled, printf-style logging for the whole
// tool. Output is text by default; JSON is available for log collectors.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
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
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. Accepts "warning" as an
// alias for "warn". Returns LevelInfo and an error for unknown names.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

var (
	mu     sync.Mutex
	level  = LevelInfo
	format = "text"
	out    io.Writer = os.Stderr
)

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// SetFormat selects "text" or "json" output. Unknown values fall back to
// text.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f == "json" {
		format = "json"
	} else {
		format = "text"
	}
}

// SetOutput redirects log output; nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		out = os.Stderr
	} else {
		out = w
	}
}

// IsDebug reports whether debug output is enabled, so callers can skip
// building expensive messages.
func IsDebug() bool { return GetLevel() <= LevelDebug }

// Debug logs at debug level.
func Debug(msg string, args ...any) { log(LevelDebug, msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { log(LevelInfo, msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { log(LevelWarn, msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { log(LevelError, msg, args...) }

func log(l Level, msg string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	formatted := fmt.Sprintf(msg, args...)
	now := time.Now()

	if format == "json" {
		entry := map[string]string{
			"ts":    now.Format(time.RFC3339),
			"level": strings.ToLower(l.String()),
			"msg":   formatted,
		}
		b, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(out, "%s [%s] %s\n", now.Format("2006-01-02 15:04:05"), l, formatted)
			return
		}
		fmt.Fprintf(out, "%s\n", b)
		return
	}

	fmt.Fprintf(out, "%s [%s] %s\n", now.Format("2006-01-02 15:04:05"), l, formatted)
}
