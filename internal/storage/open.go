package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "assignbot/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// prepareEntry fills the ID and timestamp of a new error entry.
func prepareEntry(e ErrorEntry) ErrorEntry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return e
}

func prepareLink(l UserLink) (UserLink, error) {
	l.Email = NormalizeEmail(l.Email)
	l.ChatID = strings.TrimSpace(l.ChatID)
	if l.Email == "" || l.ChatID == "" {
		return l, errors.New("link requires email and chat id")
	}
	if l.At.IsZero() {
		l.At = time.Now()
	}
	return l, nil
}
