// Package hooks is the registration table: which handler runs for which
// document type and lifecycle event.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"assignbot/internal/assign"
	"assignbot/internal/dispatch"
	"assignbot/internal/document"
	"assignbot/internal/errlog"
	logx "assignbot/pkg/logx"
)

// Lifecycle events bound for every tracked doctype.
const (
	EventOnUpdate            = "on_update"
	EventOnSubmit            = "on_submit"
	EventOnUpdateAfterSubmit = "on_update_after_submit"
	DefaultDoctype           = "Task"
)

// TrackedEvents are the lifecycle events that reach the detector.
var TrackedEvents = []string{EventOnUpdate, EventOnSubmit, EventOnUpdateAfterSubmit}

// Handler processes one lifecycle event.
type Handler func(ctx context.Context, ev document.Event) assign.Outcome

type Middleware func(next Handler) Handler

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h Handler, m ...Middleware) Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// DocEvents maps doctype -> event -> handler. It is built once at startup
// and read-only afterwards.
type DocEvents map[string]map[string]Handler

// Bind returns the table binding every tracked event of each doctype to h.
func Bind(doctypes []string, h Handler) DocEvents {
	if len(doctypes) == 0 {
		doctypes = []string{DefaultDoctype}
	}
	t := DocEvents{}
	for _, dt := range doctypes {
		dt = strings.TrimSpace(dt)
		if dt == "" {
			continue
		}
		events := map[string]Handler{}
		for _, ev := range TrackedEvents {
			events[ev] = h
		}
		t[dt] = events
	}
	return t
}

func (t DocEvents) Lookup(doctype, event string) (Handler, bool) {
	h, ok := t[doctype][event]
	return h, ok
}

// Routes lists "doctype/event" pairs in sorted order.
func (t DocEvents) Routes() []string {
	var out []string
	for dt, events := range t {
		for ev := range events {
			out = append(out, dt+"/"+ev)
		}
	}
	sort.Strings(out)
	return out
}

// Registry routes events through the table and writes every failure to
// the error log.
type Registry struct {
	table   DocEvents
	sink    errlog.Sink
	log     logx.Logger
	timeout time.Duration
}

type Option func(*Registry)

// DefaultTimeout bounds one event when no WithTimeout option is given.
// Events run detached from the caller, so this is the only deadline.
const DefaultTimeout = 2 * time.Minute

func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }

// WithTimeout bounds one event; zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(r *Registry) { r.timeout = d } }

func NewRegistry(table DocEvents, sink errlog.Sink, opts ...Option) *Registry {
	r := &Registry{table: table, sink: sink, log: logx.Nop(), timeout: DefaultTimeout}
	for _, o := range opts {
		o(r)
	}
	if r.sink == nil {
		r.sink = errlog.Logx{Log: r.log}
	}
	return r
}

func (r *Registry) Table() DocEvents { return r.table }

// Fire runs the handler bound to ev. handled is false when nothing is bound.
func (r *Registry) Fire(ctx context.Context, ev document.Event) (out assign.Outcome, handled bool) {
	h, ok := r.table.Lookup(ev.Doctype, ev.Name)
	if !ok {
		return assign.Outcome{}, false
	}
	h = Chain(h, r.recoverPanics(), r.requestLog(), withTimeout(r.timeout))
	out = h(ctx, ev)
	r.report(ctx, ev, out)
	return out, true
}

func (r *Registry) report(ctx context.Context, ev document.Event, out assign.Outcome) {
	if out.Status == assign.StatusFailed {
		r.sink.LogError(ctx, errlog.Entry{
			Message:  out.LogMessage(),
			Category: assign.Category,
			Doctype:  ev.Doctype,
			DocName:  ev.Doc.Name,
		})
	}
	for _, res := range out.Results {
		if res.Status != dispatch.StatusFailed {
			continue
		}
		r.sink.LogError(ctx, errlog.Entry{
			Message:  res.LogMessage(),
			Category: res.Category,
			Doctype:  ev.Doctype,
			DocName:  ev.Doc.Name,
		})
	}
}

func withTimeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev document.Event) assign.Outcome {
			if d <= 0 {
				return next(ctx, ev)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, ev)
		}
	}
}

func (r *Registry) recoverPanics() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev document.Event) (out assign.Outcome) {
			defer func() {
				if p := recover(); p != nil {
					out = assign.Outcome{Status: assign.StatusFailed, Err: fmt.Errorf("panic: %v", p)}
				}
			}()
			return next(ctx, ev)
		}
	}
}

func (r *Registry) requestLog() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev document.Event) assign.Outcome {
			start := time.Now()
			out := next(ctx, ev)
			r.log.Debug("hook fired",
				logx.String("doctype", ev.Doctype),
				logx.String("event", ev.Name),
				logx.String("doc", ev.Doc.Name),
				logx.String("status", string(out.Status)),
				logx.String("reason", out.Reason),
				logx.Int("sent", out.Sent()),
				logx.Duration("took", time.Since(start)),
			)
			return out
		}
	}
}
