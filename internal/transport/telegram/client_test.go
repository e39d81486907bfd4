package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "assignbot/pkg/logx"
)

func TestSendMessageReplies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		body    string
		want    Reply
		wantErr bool
	}{
		{name: "ok", status: 200, body: `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`, want: Reply{OK: true}},
		{name: "api error", status: 400, body: `{"ok":false,"error_code":400,"description":"bad chat id"}`, want: Reply{ErrorCode: 400, Description: "bad chat id"}},
		{name: "ok is not a bool", status: 200, body: `{"ok":"true","description":"odd"}`, want: Reply{Description: "odd"}},
		{name: "garbage", status: 502, body: `<html>bad gateway</html>`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := New(Config{Token: "1:x", APIURL: srv.URL}, logx.Nop())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got, err := c.SendMessage(context.Background(), "111", "hi", ParseModeMarkdown)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("reply = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSendMessageTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{Token: "1:x", APIURL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.SendMessage(context.Background(), "111", "hi", ""); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
