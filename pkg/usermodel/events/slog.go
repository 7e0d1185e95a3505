package events

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logLevel = new(slog.LevelVar)

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
// Unknown values give info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ConfigureLogging installs the default slog logger. The level comes from
// USERMODEL_LOG_LEVEL when set, otherwise from level. format is "json" or
// "text". A nil w writes to stderr.
func ConfigureLogging(level, format string, w io.Writer) *slog.Logger {
	if env := os.Getenv("USERMODEL_LOG_LEVEL"); env != "" {
		level = env
	}
	logLevel.Set(ParseLevel(level))

	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// SetLogLevel changes the level of the logger built by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SlogSink writes events through a slog.Logger at info level.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink on logger, or on slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Log implements Sink.
func (s *SlogSink) Log(tag string, payload map[string]any) {
	args := make([]any, 0, len(payload)*2)
	for _, k := range sortedKeys(payload) {
		args = append(args, k, payload[k])
	}
	s.logger.Info(tag, args...)
}
