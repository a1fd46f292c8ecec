package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps a config level name to a slog.Level. Unknown names are
// treated as warn.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// NewHandler returns the text handler every uricheck logger uses.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Local().Format(time.DateTime))
			}
			return a
		},
	})
}

// SetLogConf installs the default logger. Logs go to stderr, stdout being
// reserved for the report. A non-empty file adds a rotated log file; extra
// writers (the API log stream) receive every line too. The returned closer
// releases the log file.
func SetLogConf(level, file string, extra ...io.Writer) io.Closer {
	writers := []io.Writer{os.Stderr}
	var closer io.Closer = nopCloser{}
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   ResolveFile(file),
			MaxSize:    5, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			LocalTime:  true,
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}
	writers = append(writers, extra...)

	slog.SetDefault(slog.New(NewHandler(io.MultiWriter(writers...), ParseLevel(level))))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func LogHeader(version string, cfg slog.LogValuer) {
	slog.Info("uricheck started", "version", version, "", cfg)
	slog.Debug("uricheck host", GetOSInfo()...)
}
