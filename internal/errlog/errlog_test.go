package errlog

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"assignbot/internal/storage"
	logx "assignbot/pkg/logx"
)

func TestLogxSinkWritesCategory(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Logx{Log: logx.NewWriter(&buf, "debug")}.LogError(context.Background(), Entry{
		Message:  "Telegram API error: bad chat id",
		Category: "Telegram API Error",
		DocName:  "TASK-9",
	})
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["level"] != "error" || m["category"] != "Telegram API Error" || m["doc"] != "TASK-9" {
		t.Fatalf("unexpected entry: %v", m)
	}
}

func TestMultiWritesStore(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	var buf bytes.Buffer
	sink := Multi{
		Logx{Log: logx.NewWriter(&buf, "debug")},
		Store{Store: st, Log: logx.Nop()},
		nil,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the store write must not depend on the caller's context
	sink.LogError(ctx, Entry{Message: "boom", Category: "cat"})

	got, err := st.ListErrors(context.Background(), 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListErrors: %v entries, err=%v", len(got), err)
	}
	if got[0].Message != "boom" || got[0].Category != "cat" {
		t.Fatalf("entry = %+v", got[0])
	}
	if buf.Len() == 0 {
		t.Fatal("expected log output")
	}
}
