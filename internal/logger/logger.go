// Package logger provides leveled printf-style logging.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

type logger struct {
	level Level
	out   *log.Logger
}

var std *logger

// Init initializes the default logger with the specified level and
// format ("json" or "text"; text adds caller locations).
func Init(level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	std = &logger{
		level: ParseLevel(level),
		out:   log.New(os.Stderr, "", flags),
	}
}

func emit(l Level, tag, format string, args ...any) {
	if std == nil || std.level > l {
		return
	}
	_ = std.out.Output(3, fmt.Sprintf(tag+format, args...))
}

func Debug(format string, args ...any) { emit(DebugLevel, "[DEBUG] ", format, args...) }

func Info(format string, args ...any) { emit(InfoLevel, "[INFO] ", format, args...) }

func Warn(format string, args ...any) { emit(WarnLevel, "[WARN] ", format, args...) }

func Error(format string, args ...any) { emit(ErrorLevel, "[ERROR] ", format, args...) }

// Fatal logs the message and exits the process.
func Fatal(format string, args ...any) {
	if std != nil {
		_ = std.out.Output(3, fmt.Sprintf("[FATAL] "+format, args...))
	}
	os.Exit(1)
}
