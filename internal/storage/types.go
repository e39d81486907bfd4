// Package storage persists the error log and the email -> Telegram chat
// links created through the bot.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL, DSN required
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ErrorEntry is one row of the error log (message + category), the
// persistent counterpart of the host's error log.
type ErrorEntry struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
	Doctype  string    `json:"doctype,omitempty"`
	DocName  string    `json:"doc_name,omitempty"`
}

// UserLink maps a host user id (email) to a Telegram chat id.
type UserLink struct {
	Email    string    `json:"email"`
	ChatID   string    `json:"chat_id"`
	Username string    `json:"username,omitempty"`
	At       time.Time `json:"at"`
}

// Store is the persistence API used by the error log, the users directory
// and the bot's link commands.
type Store interface {
	AppendError(ctx context.Context, e ErrorEntry) error
	// ListErrors returns up to limit entries, newest first.
	ListErrors(ctx context.Context, limit int) ([]ErrorEntry, error)
	// PruneErrors deletes entries older than before and reports how many.
	PruneErrors(ctx context.Context, before time.Time) (int64, error)

	PutLink(ctx context.Context, l UserLink) error
	// ClaimLink stores l unless the email is already linked to another
	// chat. It returns the link in effect and whether l was stored.
	ClaimLink(ctx context.Context, l UserLink) (UserLink, bool, error)
	GetLink(ctx context.Context, email string) (UserLink, bool, error)
	DeleteLink(ctx context.Context, email string) (bool, error)

	Close() error
}

// NormalizeEmail is the canonical key for links: trimmed, lower-case.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
