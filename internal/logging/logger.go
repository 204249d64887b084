// Package logging provides colored, leveled log output for appboot.
//
// All output functions write a prefixed, color-coded line. Debug output is
// suppressed unless verbose mode is enabled via SetVerbose(true). When a log
// file is configured with SetFile, every line is also written there as a
// structured JSON record.
package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// verbose controls whether Debug() produces output.
var verbose bool

var (
	fileMu  sync.RWMutex
	fileLog *zap.Logger
)

// Color printers for each log level.
var (
	infoPrefix    = color.New(color.FgBlue).SprintFunc()
	successPrefix = color.New(color.FgGreen).SprintFunc()
	warnPrefix    = color.New(color.FgYellow).SprintFunc()
	errorPrefix   = color.New(color.FgRed).SprintFunc()
	phasePrefix   = color.New(color.FgCyan).SprintFunc()
	debugPrefix   = color.New(color.FgBlue).SprintFunc()
)

// SetVerbose enables or disables Debug output.
func SetVerbose(v bool) {
	verbose = v
}

// SetFile mirrors all log lines to path as JSON. An empty path disables the
// file sink. The returned function flushes and closes the sink.
func SetFile(path string) (func(), error) {
	fileMu.Lock()
	defer fileMu.Unlock()

	if path == "" {
		fileLog = nil
		return func() {}, nil
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Sampling = nil

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build file logger: %w", err)
	}
	fileLog = l

	return func() {
		fileMu.Lock()
		defer fileMu.Unlock()
		if fileLog == l {
			fileLog = nil
		}
		_ = l.Sync()
	}, nil
}

func toFile(level string, msg string) {
	fileMu.RLock()
	l := fileLog
	fileMu.RUnlock()
	if l == nil {
		return
	}
	switch level {
	case "debug":
		l.Debug(msg)
	case "warn":
		l.Warn(msg)
	case "error":
		l.Error(msg)
	default:
		l.Info(msg, zap.String("kind", level))
	}
}

// Info prints an informational message to stdout in blue.
func Info(msg string) {
	fmt.Println(infoPrefix("[INFO]") + " " + msg)
	toFile("info", msg)
}

// Success prints a success message to stdout in green.
func Success(msg string) {
	fmt.Println(successPrefix("[SUCCESS]") + " " + msg)
	toFile("success", msg)
}

// Warn prints a warning message to stdout in yellow.
func Warn(msg string) {
	fmt.Println(warnPrefix("[WARN]") + " " + msg)
	toFile("warn", msg)
}

// Error prints an error message to stderr in red.
func Error(msg string) {
	fmt.Fprintln(os.Stderr, errorPrefix("[ERROR]")+" "+msg)
	toFile("error", msg)
}

// Phase prints a phase header to stdout in cyan, surrounded by separator lines.
func Phase(msg string) {
	sep := phasePrefix("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println(sep)
	fmt.Println(phasePrefix("[PHASE]") + " " + msg)
	fmt.Println(sep)
	toFile("phase", msg)
}

// Debug prints a debug message to stdout in blue, only when verbose mode is enabled.
// The file sink always receives it.
func Debug(msg string) {
	toFile("debug", msg)
	if !verbose {
		return
	}
	fmt.Println(debugPrefix("[DEBUG]") + " " + msg)
}

// FormatDuration converts a duration in seconds to a human-readable string.
//
// Examples:
//
//	FormatDuration(0)    => "0s"
//	FormatDuration(45)   => "45s"
//	FormatDuration(90)   => "1m 30s"
//	FormatDuration(3661) => "1h 1m 1s"
func FormatDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		m := seconds / 60
		s := seconds % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
