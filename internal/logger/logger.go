// Package logger provides the leveled, optionally colored log output used
// across the tool. Levels gate output globally; Debug is off unless the
// verbose flag raises the level.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
)

// Log levels
const (
	LevelError = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

var (
	Info    *log.Logger
	Debug   *log.Logger
	Warning *log.Logger
	Error   *log.Logger

	// LogLevel controls the overall logging level.
	LogLevel = LevelInfo

	useColors = true
)

// Initialize sets up the loggers with the specified outputs, defaulting to
// stdout/stderr.
func Initialize(out, errOut io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	if useColors {
		Info = log.New(out, colorBlue+"INFO: "+colorReset, log.Ldate|log.Ltime)
		Debug = log.New(out, colorPurple+"DEBUG: "+colorReset, log.Ldate|log.Ltime|log.Lshortfile)
		Warning = log.New(out, colorYellow+"WARNING: "+colorReset, log.Ldate|log.Ltime)
		Error = log.New(errOut, colorRed+"ERROR: "+colorReset, log.Ldate|log.Ltime)
	} else {
		Info = log.New(out, "INFO: ", log.Ldate|log.Ltime)
		Debug = log.New(out, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
		Warning = log.New(out, "WARNING: ", log.Ldate|log.Ltime)
		Error = log.New(errOut, "ERROR: ", log.Ldate|log.Ltime)
	}
}

// DisableColors disables colored output.
func DisableColors() {
	useColors = false
	Initialize(nil, nil)
}

// SetLevel sets the logging level.
func SetLevel(level int) {
	if level >= LevelError && level <= LevelDebug {
		LogLevel = level
	}
}

func Infof(format string, v ...interface{}) {
	if LogLevel >= LevelInfo {
		Info.Output(2, fmt.Sprintf(format, v...))
	}
}

func Debugf(format string, v ...interface{}) {
	if LogLevel >= LevelDebug {
		Debug.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warningf(format string, v ...interface{}) {
	if LogLevel >= LevelWarning {
		Warning.Output(2, fmt.Sprintf(format, v...))
	}
}

func Errorf(format string, v ...interface{}) {
	if LogLevel >= LevelError {
		Error.Output(2, fmt.Sprintf(format, v...))
	}
}

func init() {
	Initialize(nil, nil)
}
