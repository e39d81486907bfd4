// Package assign detects assignment changes on saved documents and hands
// each newly relevant recipient to the dispatcher.
package assign

import (
	"context"
	"errors"
	"fmt"

	"assignbot/internal/dispatch"
	"assignbot/internal/document"
	"assignbot/internal/users"
	logx "assignbot/pkg/logx"
)

// Category is the error-log category for detector failures.
const Category = "Task Assignment Notification Error"

// Mode selects which users of the new list are notified.
type Mode string

const (
	// ModeAll notifies every user in the new list.
	ModeAll Mode = "all"
	// ModeAdded notifies only users missing from the previous list.
	ModeAdded Mode = "added"
)

// Status is the overall result of handling one save.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Skip reasons.
const (
	ReasonNewDocument  = "new_document"
	ReasonNoPriorState = "no_prior_state"
	ReasonUnchanged    = "unchanged"
	ReasonNoRecipients = "no_recipients"
)

// Notifier delivers one notification. *dispatch.Dispatcher implements it.
type Notifier interface {
	Send(ctx context.Context, chatID string, doc document.Doc) dispatch.Result
}

// Outcome reports what one Handle call did. Results holds every dispatch
// attempted before the outcome was decided, failed ones included.
type Outcome struct {
	Status  Status
	Reason  string
	Err     error
	Diff    Diff
	Results []dispatch.Result
}

// Sent counts successful deliveries.
func (o Outcome) Sent() int {
	n := 0
	for _, r := range o.Results {
		if r.Status == dispatch.StatusSent {
			n++
		}
	}
	return n
}

// LogMessage is the error-log text for a failed outcome.
func (o Outcome) LogMessage() string {
	if o.Err == nil {
		return ""
	}
	return "Telegram notification error: " + o.Err.Error()
}

// Detector decides whether a save changed the assignment list and
// notifies the resulting recipients in list order.
type Detector struct {
	users    users.Directory
	notifier Notifier
	mode     Mode
	log      logx.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithMode selects who is notified; an empty mode keeps ModeAll.
func WithMode(m Mode) Option {
	return func(d *Detector) {
		if m != "" {
			d.mode = m
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(d *Detector) { d.log = log }
}

func NewDetector(dir users.Directory, notifier Notifier, opts ...Option) *Detector {
	d := &Detector{users: dir, notifier: notifier, mode: ModeAll, log: logx.Nop()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle runs on every save of a tracked document. It never panics; every
// problem is reported in the returned Outcome.
func (d *Detector) Handle(ctx context.Context, ev document.Event) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	if ev.IsNew {
		return Outcome{Status: StatusSkipped, Reason: ReasonNewDocument}
	}
	if ev.Before == nil {
		return Outcome{Status: StatusSkipped, Reason: ReasonNoPriorState}
	}

	oldRaw := ev.Before.AssignOr(document.EmptyAssign)
	newRaw := ev.Doc.AssignOr(document.EmptyAssign)
	if oldRaw == newRaw {
		return Outcome{Status: StatusSkipped, Reason: ReasonUnchanged}
	}

	newIDs, err := ParseList(newRaw)
	if err != nil {
		return Outcome{Status: StatusFailed, Err: err}
	}
	// The old list only feeds the diff; a malformed one counts as empty.
	oldIDs, err := ParseList(oldRaw)
	if err != nil {
		d.log.Warn("previous assignment list unreadable", logx.String("doc", ev.Doc.Name), logx.Err(err))
		oldIDs = nil
	}
	out.Diff = Compare(oldIDs, newIDs)

	recipients := out.Diff.Current
	if d.mode == ModeAdded {
		recipients = out.Diff.Added
	}

	if d.users == nil || d.notifier == nil {
		out.Status = StatusFailed
		out.Err = errors.New("detector not wired")
		return out
	}

	for _, user := range recipients {
		chatID, err := d.users.MessagingID(ctx, user)
		if err != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("lookup %s: %w", user, err)
			return out
		}
		if chatID == "" {
			d.log.Debug("user has no messaging id", logx.String("user", user))
			continue
		}
		out.Results = append(out.Results, d.notifier.Send(ctx, chatID, ev.Doc))
	}

	if len(out.Results) == 0 {
		out.Status = StatusSkipped
		out.Reason = ReasonNoRecipients
		return out
	}
	out.Status = StatusSent
	return out
}
