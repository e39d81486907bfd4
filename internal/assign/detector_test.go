package assign

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"assignbot/internal/dispatch"
	"assignbot/internal/document"
)

type countingDirectory struct {
	mu    sync.Mutex
	ids   map[string]string
	err   error
	calls []string
}

func (c *countingDirectory) MessagingID(_ context.Context, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, user)
	if c.err != nil {
		return "", c.err
	}
	return c.ids[user], nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	fail  map[string]bool
	panic bool
}

func (r *recordingNotifier) Send(_ context.Context, chatID string, _ document.Doc) dispatch.Result {
	if r.panic {
		panic("notifier exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, chatID)
	if r.fail[chatID] {
		return dispatch.Result{ChatID: chatID, Status: dispatch.StatusFailed, Category: dispatch.CategoryAPI,
			Err: &dispatch.APIError{Description: "bad chat id"}}
	}
	return dispatch.Result{ChatID: chatID, Status: dispatch.StatusSent}
}

func str(s string) *string { return &s }

func saveEvent(before, after *string) document.Event {
	return document.Event{
		Doctype: "Task",
		Name:    "on_update",
		Doc:     document.Doc{Name: "TASK-1", Subject: "Fix roof", Owner: "boss@x.com", Assign: after},
		Before:  &document.Doc{Name: "TASK-1", Assign: before},
	}
}

func TestHandleSkips(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		ev     document.Event
		reason string
	}{
		{
			name:   "new document",
			ev:     document.Event{IsNew: true, Doc: document.Doc{Assign: str(`["alice@x.com"]`)}},
			reason: ReasonNewDocument,
		},
		{
			name:   "no prior state",
			ev:     document.Event{Doc: document.Doc{Assign: str(`["alice@x.com"]`)}},
			reason: ReasonNoPriorState,
		},
		{
			name:   "unchanged",
			ev:     saveEvent(str(`["alice@x.com"]`), str(`["alice@x.com"]`)),
			reason: ReasonUnchanged,
		},
		{
			name:   "both absent",
			ev:     saveEvent(nil, nil),
			reason: ReasonUnchanged,
		},
		{
			name:   "absent equals empty list",
			ev:     saveEvent(nil, str("[]")),
			reason: ReasonUnchanged,
		},
		{
			name:   "cleared list",
			ev:     saveEvent(str(`["alice@x.com"]`), str("[]")),
			reason: ReasonNoRecipients,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := &countingDirectory{ids: map[string]string{"alice@x.com": "111"}}
			n := &recordingNotifier{}
			out := NewDetector(dir, n).Handle(context.Background(), tt.ev)
			if out.Status != StatusSkipped || out.Reason != tt.reason {
				t.Fatalf("outcome = %+v", out)
			}
			if len(n.sent) != 0 {
				t.Fatalf("unexpected sends: %v", n.sent)
			}
			if tt.reason != ReasonNoRecipients && len(dir.calls) != 0 {
				t.Fatalf("unexpected lookups: %v", dir.calls)
			}
		})
	}
}

func TestHandleComparesRawText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mode   Mode
		before string
		after  string
		status Status
		sent   []string
	}{
		{name: "reordered", mode: ModeAll, before: `["a@x.com","b@x.com"]`, after: `["b@x.com","a@x.com"]`,
			status: StatusSent, sent: []string{"2", "1"}},
		{name: "whitespace only", mode: ModeAll, before: `["a@x.com"]`, after: `[ "a@x.com" ]`,
			status: StatusSent, sent: []string{"1"}},
		{name: "reordered, added mode", mode: ModeAdded, before: `["a@x.com","b@x.com"]`, after: `["b@x.com","a@x.com"]`,
			status: StatusSkipped},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := &countingDirectory{ids: map[string]string{"a@x.com": "1", "b@x.com": "2"}}
			n := &recordingNotifier{}
			out := NewDetector(dir, n, WithMode(tt.mode)).Handle(context.Background(), saveEvent(str(tt.before), str(tt.after)))
			if out.Status != tt.status || out.Reason == ReasonUnchanged {
				t.Fatalf("outcome = %+v", out)
			}
			if !reflect.DeepEqual(n.sent, tt.sent) {
				t.Fatalf("sent = %v, want %v", n.sent, tt.sent)
			}
		})
	}
}

func TestHandleSingleAssignment(t *testing.T) {
	t.Parallel()
	dir := &countingDirectory{ids: map[string]string{"alice@x.com": "111"}}
	n := &recordingNotifier{}
	out := NewDetector(dir, n).Handle(context.Background(), saveEvent(str("[]"), str(`["alice@x.com"]`)))
	if out.Status != StatusSent || out.Sent() != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if !reflect.DeepEqual(n.sent, []string{"111"}) {
		t.Fatalf("sent = %v", n.sent)
	}
	if !reflect.DeepEqual(out.Diff.Added, []string{"alice@x.com"}) {
		t.Fatalf("diff = %+v", out.Diff)
	}
}

func TestHandleNotifiesInListOrder(t *testing.T) {
	t.Parallel()
	dir := &countingDirectory{ids: map[string]string{
		"a@x.com": "1", "b@x.com": "2", "c@x.com": "3",
	}}
	n := &recordingNotifier{}
	ev := saveEvent(str(`["b@x.com"]`), str(`["c@x.com","b@x.com","nobody@x.com","a@x.com","c@x.com"]`))
	out := NewDetector(dir, n).Handle(context.Background(), ev)
	if out.Status != StatusSent {
		t.Fatalf("outcome = %+v", out)
	}
	if !reflect.DeepEqual(n.sent, []string{"3", "2", "1"}) {
		t.Fatalf("sent = %v", n.sent)
	}
	if out.Err != nil {
		t.Fatalf("user without messaging id must not produce an error: %v", out.Err)
	}
}

func TestHandleAddedMode(t *testing.T) {
	t.Parallel()
	dir := &countingDirectory{ids: map[string]string{"a@x.com": "1", "b@x.com": "2"}}
	n := &recordingNotifier{}
	ev := saveEvent(str(`["a@x.com"]`), str(`["a@x.com","b@x.com"]`))
	out := NewDetector(dir, n, WithMode(ModeAdded)).Handle(context.Background(), ev)
	if out.Status != StatusSent || !reflect.DeepEqual(n.sent, []string{"2"}) {
		t.Fatalf("outcome = %+v sent = %v", out, n.sent)
	}
}

func TestHandleKeepsGoingAfterDispatchFailure(t *testing.T) {
	t.Parallel()
	dir := &countingDirectory{ids: map[string]string{"a@x.com": "1", "b@x.com": "2"}}
	n := &recordingNotifier{fail: map[string]bool{"1": true}}
	out := NewDetector(dir, n).Handle(context.Background(), saveEvent(nil, str(`["a@x.com","b@x.com"]`)))
	if out.Status != StatusSent || len(out.Results) != 2 || out.Sent() != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Results[0].Status != dispatch.StatusFailed {
		t.Fatalf("first result = %+v", out.Results[0])
	}
}

func TestHandleFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		dir     *countingDirectory
		n       *recordingNotifier
		ev      document.Event
		wantMsg string
	}{
		{
			name:    "malformed list",
			dir:     &countingDirectory{},
			n:       &recordingNotifier{},
			ev:      saveEvent(str("[]"), str(`["alice@x.com"`)),
			wantMsg: "Telegram notification error: decode assignment list",
		},
		{
			name:    "lookup error",
			dir:     &countingDirectory{err: errors.New("erp down")},
			n:       &recordingNotifier{},
			ev:      saveEvent(str("[]"), str(`["alice@x.com","bob@x.com"]`)),
			wantMsg: "Telegram notification error: lookup alice@x.com: erp down",
		},
		{
			name:    "panic",
			dir:     &countingDirectory{ids: map[string]string{"alice@x.com": "111"}},
			n:       &recordingNotifier{panic: true},
			ev:      saveEvent(str("[]"), str(`["alice@x.com"]`)),
			wantMsg: "Telegram notification error: panic: notifier exploded",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := NewDetector(tt.dir, tt.n).Handle(context.Background(), tt.ev)
			if out.Status != StatusFailed {
				t.Fatalf("outcome = %+v", out)
			}
			if !strings.HasPrefix(out.LogMessage(), tt.wantMsg) {
				t.Fatalf("LogMessage = %q, want prefix %q", out.LogMessage(), tt.wantMsg)
			}
		})
	}

	// The lookup stops at the first error.
	dir := &countingDirectory{err: errors.New("erp down")}
	NewDetector(dir, &recordingNotifier{}).Handle(context.Background(), saveEvent(nil, str(`["a","b"]`)))
	if len(dir.calls) != 1 {
		t.Fatalf("lookups after error: %v", dir.calls)
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()
	d := Compare([]string{"a", "b", "c"}, []string{"c", "d"})
	if !reflect.DeepEqual(d.Added, []string{"d"}) || !reflect.DeepEqual(d.Removed, []string{"a", "b"}) {
		t.Fatalf("diff = %+v", d)
	}
	if ids, err := ParseList(` ["x", " ", "x", "y"] `); err != nil || !reflect.DeepEqual(ids, []string{"x", "y"}) {
		t.Fatalf("ParseList = %v, %v", ids, err)
	}
	if ids, err := ParseList(""); err != nil || len(ids) != 0 {
		t.Fatalf("ParseList empty = %v, %v", ids, err)
	}
}
