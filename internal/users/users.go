// Package users resolves a host user id (email) to the Telegram chat id
// stored on the user record.
package users

import (
	"context"
	"errors"
	"strings"

	"assignbot/internal/storage"
)

// ErrNotConfigured is returned by a directory whose backend is missing.
var ErrNotConfigured = errors.New("users directory not configured")

// Directory looks up messaging ids. An empty id with a nil error means the
// user has none.
type Directory interface {
	MessagingID(ctx context.Context, user string) (string, error)
}

// Links answers from the local link table filled by /link.
type Links struct {
	Store storage.Store
}

func (l Links) MessagingID(ctx context.Context, user string) (string, error) {
	if l.Store == nil {
		return "", ErrNotConfigured
	}
	link, ok, err := l.Store.GetLink(ctx, user)
	if err != nil || !ok {
		return "", err
	}
	return strings.TrimSpace(link.ChatID), nil
}

// Chain asks each directory in order; the first non-empty id wins. An
// error from any directory stops the lookup.
type Chain []Directory

func (c Chain) MessagingID(ctx context.Context, user string) (string, error) {
	for _, d := range c {
		if d == nil {
			continue
		}
		id, err := d.MessagingID(ctx, user)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}

// Static is an in-memory directory.
type Static map[string]string

func (s Static) MessagingID(_ context.Context, user string) (string, error) {
	return s[user], nil
}
