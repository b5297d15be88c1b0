package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// SetupLogger builds the process logger for the given environment. Local runs
// log human-readable text to stdout at debug level; dev and prod log JSON to
// a file under logPath.
func SetupLogger(env, logPath string) *slog.Logger {
	switch env {
	case envDev:
		return slog.New(slog.NewJSONHandler(logOutput(logPath), &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(logOutput(logPath), &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

func logOutput(logPath string) io.Writer {
	file := filepath.Join(logPath, "chatcore.log")
	out, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("cannot open log file %s: %v, falling back to stdout", file, err)
		return os.Stdout
	}
	return out
}

// Messenger is the sink the Telegram handler mirrors records to.
type Messenger interface {
	SendMessage(msg string)
}

// SetupTelegramHandler wraps the logger so that records at or above level are
// also sent to the admin chat.
func SetupTelegramHandler(logger *slog.Logger, m Messenger, level slog.Level) *slog.Logger {
	return slog.New(&telegramHandler{
		next:  logger.Handler(),
		bot:   m,
		level: level,
	})
}

type telegramHandler struct {
	next  slog.Handler
	bot   Messenger
	level slog.Level
	attrs []slog.Attr
}

func (h *telegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *telegramHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level && h.bot != nil {
		text := fmt.Sprintf("[%s] %s", r.Level, r.Message)
		for _, a := range h.attrs {
			text += fmt.Sprintf("\n%s: %s", a.Key, a.Value)
		}
		r.Attrs(func(a slog.Attr) bool {
			text += fmt.Sprintf("\n%s: %s", a.Key, a.Value)
			return true
		})
		go h.bot.SendMessage(text)
	}
	return h.next.Handle(ctx, r)
}

func (h *telegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &telegramHandler{
		next:  h.next.WithAttrs(attrs),
		bot:   h.bot,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *telegramHandler) WithGroup(name string) slog.Handler {
	return &telegramHandler{
		next:  h.next.WithGroup(name),
		bot:   h.bot,
		level: h.level,
		attrs: h.attrs,
	}
}
