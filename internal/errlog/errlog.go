// Package errlog is the error-log sink: a (message, category) pair written
// to structured logs and, when storage is enabled, to the persistent log.
package errlog

import (
	"context"
	"time"

	"assignbot/internal/storage"
	logx "assignbot/pkg/logx"
)

// Entry carries optional document context alongside message and category.
type Entry struct {
	Message  string
	Category string
	Doctype  string
	DocName  string
}

// Sink records error-log entries. Implementations never fail the caller.
type Sink interface {
	LogError(ctx context.Context, e Entry)
}

// Logx writes entries as error-level structured log lines.
type Logx struct {
	Log logx.Logger
}

func (s Logx) LogError(ctx context.Context, e Entry) {
	fields := []logx.Field{logx.String("category", e.Category)}
	if e.Doctype != "" {
		fields = append(fields, logx.String("doctype", e.Doctype))
	}
	if e.DocName != "" {
		fields = append(fields, logx.String("doc", e.DocName))
	}
	s.Log.Error(e.Message, fields...)
}

// Store appends entries to the persistent error log. A failed write is
// reported on Log and otherwise dropped.
type Store struct {
	Store storage.Store
	Log   logx.Logger
}

func (s Store) LogError(ctx context.Context, e Entry) {
	if s.Store == nil {
		return
	}
	// Detach from the request so a client disconnect can't drop the entry.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.Store.AppendError(wctx, storage.ErrorEntry{
		Category: e.Category,
		Message:  e.Message,
		Doctype:  e.Doctype,
		DocName:  e.DocName,
	})
	if err != nil {
		s.Log.Warn("error-log write failed", logx.Err(err), logx.String("category", e.Category))
	}
}

// Multi fans one entry out to several sinks in order.
type Multi []Sink

func (m Multi) LogError(ctx context.Context, e Entry) {
	for _, s := range m {
		if s != nil {
			s.LogError(ctx, e)
		}
	}
}
