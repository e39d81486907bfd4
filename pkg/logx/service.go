package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig routes entries at or above MinLevel to an ops chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./assignbot.log"

// TextSender delivers plain text to a chat. The Telegram client implements it.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

// Service owns the live outputs. Apply swaps them without invalidating
// loggers handed out earlier.
type Service struct {
	out atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	ops  *opsSink
}

// New applies cfg and returns the service with its root logger. sender
// may be nil, which disables the ops-chat output.
func New(cfg Config, sender TextSender) (*Service, Logger) {
	s := &Service{}
	if sender != nil {
		s.ops = newOpsSink(sender)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.out.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the outputs from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	if s.ops != nil {
		s.ops.configure(cfg.Telegram)
		if cfg.Telegram.Enabled {
			if cfg.Telegram.ChatID == 0 {
				fmt.Fprintln(os.Stderr, "logx: logging.telegram.enabled is set without a chat_id")
			}
			writers = append(writers, s.ops)
		}
	}

	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	zl := newZerolog(zerolog.MultiLevelWriter(writers...), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.out.Store(&zl)
}

// Close stops the ops-chat worker and releases the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if s.ops != nil {
		s.ops.close()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}
