package document

import (
	"strings"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()
	body := `{
	  "doc": {"name":"TASK-0001","doctype":"Task","subject":"Fix roof","owner":"boss@x.com",
	          "modified_by":null,"_assign":"[\"alice@x.com\"]"},
	  "doc_before_save": {"name":"TASK-0001","_assign":"[]"}
	}`
	ev, err := DecodeEvent("Task", "on_update", []byte(body))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.IsNew {
		t.Fatal("expected existing document")
	}
	if ev.Doc.Subject != "Fix roof" || ev.Doc.Owner != "boss@x.com" || ev.Doc.ModifiedBy != "" {
		t.Fatalf("unexpected doc: %+v", ev.Doc)
	}
	if got := ev.Doc.AssignOr(EmptyAssign); got != `["alice@x.com"]` {
		t.Fatalf("assign = %q", got)
	}
	if ev.Before == nil || ev.Before.AssignOr("x") != "[]" {
		t.Fatalf("before = %+v", ev.Before)
	}
	if ev.Before.Doctype != "" || ev.Doc.Doctype != "Task" {
		t.Fatalf("doctype handling: before=%q doc=%q", ev.Before.Doctype, ev.Doc.Doctype)
	}
}

func TestDecodeEventVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		body       string
		wantNew    bool
		wantBefore bool
		wantAssign *string
		wantErr    string
	}{
		{name: "no prior state", body: `{"doc":{"name":"T"},"doc_before_save":null}`},
		{name: "islocal flag", body: `{"doc":{"name":"T","__islocal":1}}`, wantNew: true},
		{name: "explicit is_new wins", body: `{"doc":{"name":"T","__islocal":1},"is_new":false}`},
		{name: "array assign kept verbatim", body: `{"doc":{"name":"T","_assign":["a@x.com"]},"doc_before_save":{}}`,
			wantBefore: true, wantAssign: strPtr(`["a@x.com"]`)},
		{name: "absent assign", body: `{"doc":{"name":"T"},"doc_before_save":{"_assign":null}}`, wantBefore: true},
		{name: "missing doc", body: `{}`, wantErr: "missing doc"},
		{name: "doctype mismatch", body: `{"doc":{"doctype":"Issue"}}`, wantErr: "doctype mismatch"},
		{name: "bad assign type", body: `{"doc":{"_assign":42}}`, wantErr: "_assign"},
		{name: "not json", body: `nope`, wantErr: "decode event"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, err := DecodeEvent("Task", "on_update", []byte(tt.body))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if ev.IsNew != tt.wantNew {
				t.Fatalf("IsNew = %v, want %v", ev.IsNew, tt.wantNew)
			}
			if (ev.Before != nil) != tt.wantBefore {
				t.Fatalf("Before present = %v, want %v", ev.Before != nil, tt.wantBefore)
			}
			switch {
			case tt.wantAssign == nil && ev.Doc.Assign != nil:
				t.Fatalf("assign = %q, want nil", *ev.Doc.Assign)
			case tt.wantAssign != nil && (ev.Doc.Assign == nil || *ev.Doc.Assign != *tt.wantAssign):
				t.Fatalf("assign = %v, want %q", ev.Doc.Assign, *tt.wantAssign)
			}
		})
	}
}

func strPtr(s string) *string { return &s }
