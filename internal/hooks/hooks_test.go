package hooks

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"assignbot/internal/assign"
	"assignbot/internal/dispatch"
	"assignbot/internal/document"
	"assignbot/internal/errlog"
)

type memSink struct {
	mu      sync.Mutex
	entries []errlog.Entry
}

func (m *memSink) LogError(_ context.Context, e errlog.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func TestBindDefaultTable(t *testing.T) {
	t.Parallel()
	table := Bind(nil, func(context.Context, document.Event) assign.Outcome { return assign.Outcome{} })
	want := []string{"Task/on_submit", "Task/on_update", "Task/on_update_after_submit"}
	if got := table.Routes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("routes = %v", got)
	}
	if _, ok := table.Lookup("Task", "on_trash"); ok {
		t.Fatal("on_trash must not be bound")
	}

	extra := Bind([]string{"Task", " Issue ", ""}, nil)
	if _, ok := extra.Lookup("Issue", EventOnSubmit); !ok {
		t.Fatal("extra doctype not bound")
	}
	if len(extra) != 2 {
		t.Fatalf("doctypes = %d, want 2", len(extra))
	}
}

func TestFireUnbound(t *testing.T) {
	t.Parallel()
	called := false
	reg := NewRegistry(Bind(nil, func(context.Context, document.Event) assign.Outcome {
		called = true
		return assign.Outcome{}
	}), &memSink{})
	if _, handled := reg.Fire(context.Background(), document.Event{Doctype: "Note", Name: EventOnUpdate}); handled {
		t.Fatal("unknown doctype handled")
	}
	if called {
		t.Fatal("handler called for unbound route")
	}
}

func TestFireDeadline(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		opts    []Option
		want    time.Duration
		wantSet bool
	}{
		{name: "default", want: DefaultTimeout, wantSet: true},
		{name: "custom", opts: []Option{WithTimeout(time.Second)}, want: time.Second, wantSet: true},
		{name: "disabled", opts: []Option{WithTimeout(0)}},
	}
	for _, tt := range tests {
		var (
			deadline time.Time
			set      bool
		)
		reg := NewRegistry(Bind(nil, func(ctx context.Context, _ document.Event) assign.Outcome {
			deadline, set = ctx.Deadline()
			return assign.Outcome{}
		}), &memSink{}, tt.opts...)
		start := time.Now()
		reg.Fire(context.Background(), document.Event{Doctype: DefaultDoctype, Name: EventOnUpdate})
		if set != tt.wantSet {
			t.Fatalf("%s: deadline set = %v", tt.name, set)
		}
		if set {
			if left := deadline.Sub(start); left > tt.want || left < tt.want-time.Second {
				t.Fatalf("%s: deadline in %v, want about %v", tt.name, left, tt.want)
			}
		}
	}
}

func TestFireLogsFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		out    assign.Outcome
		panics bool
		want   []errlog.Entry
	}{
		{
			name: "sent",
			out:  assign.Outcome{Status: assign.StatusSent, Results: []dispatch.Result{{ChatID: "1", Status: dispatch.StatusSent}}},
		},
		{
			name: "skipped",
			out:  assign.Outcome{Status: assign.StatusSkipped, Reason: assign.ReasonUnchanged},
		},
		{
			name: "detector failure",
			out:  assign.Outcome{Status: assign.StatusFailed, Err: errors.New("lookup alice: down")},
			want: []errlog.Entry{{
				Message: "Telegram notification error: lookup alice: down", Category: assign.Category,
				Doctype: "Task", DocName: "TASK-1",
			}},
		},
		{
			name: "api and transport failures",
			out: assign.Outcome{Status: assign.StatusSent, Results: []dispatch.Result{
				{ChatID: "1", Status: dispatch.StatusFailed, Category: dispatch.CategoryAPI, Err: &dispatch.APIError{Description: "bad chat id"}},
				{ChatID: "2", Status: dispatch.StatusSent},
				{ChatID: "3", Status: dispatch.StatusFailed, Category: dispatch.CategoryTransport, Err: context.DeadlineExceeded},
			}},
			want: []errlog.Entry{
				{Message: "Telegram API error: bad chat id", Category: dispatch.CategoryAPI, Doctype: "Task", DocName: "TASK-1"},
				{Message: "Telegram request failed: context deadline exceeded", Category: dispatch.CategoryTransport, Doctype: "Task", DocName: "TASK-1"},
			},
		},
		{
			name:   "handler panic",
			panics: true,
			want: []errlog.Entry{{
				Message: "Telegram notification error: panic: boom", Category: assign.Category,
				Doctype: "Task", DocName: "TASK-1",
			}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &memSink{}
			reg := NewRegistry(Bind(nil, func(context.Context, document.Event) assign.Outcome {
				if tt.panics {
					panic("boom")
				}
				return tt.out
			}), sink)
			_, handled := reg.Fire(context.Background(), document.Event{
				Doctype: "Task", Name: EventOnUpdateAfterSubmit, Doc: document.Doc{Name: "TASK-1"},
			})
			if !handled {
				t.Fatal("not handled")
			}
			if !reflect.DeepEqual(sink.entries, tt.want) {
				t.Fatalf("entries = %+v\nwant %+v", sink.entries, tt.want)
			}
		})
	}
}

type fakeDirectory map[string]string

func (f fakeDirectory) MessagingID(_ context.Context, u string) (string, error) { return f[u], nil }

type fakeSender struct{ reply string }

func (f fakeSender) Send(_ context.Context, chatID string, _ document.Doc) dispatch.Result {
	if f.reply != "" {
		return dispatch.Result{ChatID: chatID, Status: dispatch.StatusFailed, Category: dispatch.CategoryAPI,
			Err: &dispatch.APIError{Description: f.reply}}
	}
	return dispatch.Result{ChatID: chatID, Status: dispatch.StatusSent}
}

func TestFireWithDetector(t *testing.T) {
	t.Parallel()
	sink := &memSink{}
	det := assign.NewDetector(fakeDirectory{"alice@x.com": "111"}, fakeSender{reply: "bad chat id"})
	reg := NewRegistry(Bind(nil, det.Handle), sink)

	before := "[]"
	after := `["alice@x.com"]`
	out, handled := reg.Fire(context.Background(), document.Event{
		Doctype: "Task", Name: EventOnUpdate,
		Doc:    document.Doc{Name: "TASK-2", Assign: &after},
		Before: &document.Doc{Name: "TASK-2", Assign: &before},
	})
	if !handled || len(out.Results) != 1 {
		t.Fatalf("outcome = %+v handled=%v", out, handled)
	}
	if len(sink.entries) != 1 || !strings.Contains(sink.entries[0].Message, "bad chat id") {
		t.Fatalf("entries = %+v", sink.entries)
	}
}
