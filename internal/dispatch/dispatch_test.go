package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"assignbot/internal/document"
	"assignbot/internal/transport/telegram"
	logx "assignbot/pkg/logx"
)

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		doc       document.Doc
		signature string
		want      []string
	}{
		{
			name: "owner and subject",
			doc:  document.Doc{Owner: "boss@x.com", ModifiedBy: "clerk@x.com", Subject: "Fix roof"},
			want: []string{"• Allocated by: boss@x.com", "• Description: Fix roof", "_Tibeb Design & Build ERP_"},
		},
		{
			name: "modified_by fallback",
			doc:  document.Doc{ModifiedBy: "clerk@x.com"},
			want: []string{"• Allocated by: clerk@x.com", "• Description: No description"},
		},
		{
			name:      "system fallback and custom signature",
			doc:       document.Doc{},
			signature: "Acme ERP",
			want:      []string{"• Allocated by: System", "_Acme ERP_"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Render(tt.doc, tt.signature)
			if !strings.HasPrefix(got, "*New Notification Arrived!* 🔔\n\n*Notification Details:*\n") {
				t.Fatalf("unexpected header:\n%s", got)
			}
			if !strings.Contains(got, "• Reference Type: Task") {
				t.Fatalf("missing reference type:\n%s", got)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Fatalf("missing %q in:\n%s", w, got)
				}
			}
		})
	}
}

type stubSender struct {
	reply telegram.Reply
	err   error
	panic bool
	calls []string
}

func (s *stubSender) SendMessage(ctx context.Context, chatID, text, parseMode string) (telegram.Reply, error) {
	s.calls = append(s.calls, chatID)
	if s.panic {
		panic("boom")
	}
	return s.reply, s.err
}

func TestSendOutcomes(t *testing.T) {
	t.Parallel()
	doc := document.Doc{Name: "TASK-1", Subject: "s"}
	tests := []struct {
		name         string
		sender       *stubSender
		wantStatus   Status
		wantCategory string
		wantLog      string
	}{
		{name: "ok", sender: &stubSender{reply: telegram.Reply{OK: true}}, wantStatus: StatusSent},
		{name: "api error", sender: &stubSender{reply: telegram.Reply{Description: "bad chat id", ErrorCode: 400}},
			wantStatus: StatusFailed, wantCategory: CategoryAPI, wantLog: "Telegram API error: bad chat id"},
		{name: "transport error", sender: &stubSender{err: errors.New("dial tcp: refused")},
			wantStatus: StatusFailed, wantCategory: CategoryTransport, wantLog: "Telegram request failed: dial tcp: refused"},
		{name: "panic", sender: &stubSender{panic: true},
			wantStatus: StatusFailed, wantCategory: CategoryTransport, wantLog: "Telegram request failed: panic: boom"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := New(tt.sender, WithLogger(logx.Nop())).Send(context.Background(), "111", doc)
			if res.Status != tt.wantStatus || res.Category != tt.wantCategory {
				t.Fatalf("result = %+v", res)
			}
			if res.ChatID != "111" || len(tt.sender.calls) != 1 {
				t.Fatalf("chat id %q, calls %v", res.ChatID, tt.sender.calls)
			}
			if got := res.LogMessage(); got != tt.wantLog {
				t.Fatalf("LogMessage = %q, want %q", got, tt.wantLog)
			}
		})
	}
}

// TestSendThroughBotAPI drives the real telegram client against a fake
// Bot API server.
func TestSendThroughBotAPI(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":111,"type":"private"}}}`))
	}))
	defer srv.Close()

	client, err := telegram.New(telegram.Config{Token: "123:abc", APIURL: srv.URL, Timeout: 2 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("telegram.New: %v", err)
	}
	res := New(client).Send(context.Background(), "111", document.Doc{Subject: "Fix roof", Owner: "boss@x.com"})
	if res.Status != StatusSent {
		t.Fatalf("result = %+v (%v)", res, res.Err)
	}
	if got["chat_id"] != "111" || got["parse_mode"] != "Markdown" {
		t.Fatalf("payload = %v", got)
	}
	if text, _ := got["text"].(string); !strings.Contains(text, "Fix roof") {
		t.Fatalf("text = %q", got["text"])
	}
}
