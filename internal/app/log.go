package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// LogFilename is the log file written under the configured log_dir.
const LogFilename = "zd.log"

// zdHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
type zdHandler struct {
	w     io.Writer
	runID string
	level slog.Level
	attrs []slog.Attr
}

func (h *zdHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *zdHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.runID, r.Message)
	if err != nil {
		return err
	}
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *zdHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &zdHandler{
		w:     h.w,
		runID: h.runID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *zdHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a logger writing to logDir/zd.log and to console.
// It returns the open log file for the caller to close.
func newLogger(logDir, runID string, console io.Writer, level slog.Level) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, LogFilename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.Writer(f)
	if console != nil {
		w = io.MultiWriter(f, console)
	}
	return slog.New(&zdHandler{w: w, runID: runID, level: level}), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy ze.Logger.
type slogAdapter struct {
	l *slog.Logger
}

var _ ze.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// sessionLoggerFactory returns the ze.SessionOptions.NewLogger hook: a
// logger scoped to the application and the publishing user.
func sessionLoggerFactory(base *slog.Logger) func(*ze.ApplicationConfig, string) ze.Logger {
	return func(cfg *ze.ApplicationConfig, applicationUID string) ze.Logger {
		l := base.With("application_uid", applicationUID)
		if cfg != nil && cfg.Username != "" {
			l = l.With("user", cfg.Username)
		}
		return &slogAdapter{l: l}
	}
}
