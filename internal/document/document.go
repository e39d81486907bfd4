// Package document holds the explicit data-transfer types for host
// documents and lifecycle events, and the adapter that decodes them from
// the host's JSON representation.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// EmptyAssign is the serialized form of an empty assignment list.
const EmptyAssign = "[]"

// Doc is a task-like document snapshot. Only the fields the notifier reads
// are carried; everything else stays with the host.
type Doc struct {
	Name       string
	Doctype    string
	Subject    string
	Owner      string
	ModifiedBy string
	// Assign is the raw JSON-encoded list of assigned user ids, exactly as
	// the host stores it. Nil when the host sent no value.
	Assign *string
}

// AssignOr returns the raw assignment string, or def when absent.
func (d Doc) AssignOr(def string) string {
	if d.Assign == nil {
		return def
	}
	return *d.Assign
}

// Event is one lifecycle callback from the host.
type Event struct {
	Doctype string
	// Name is the lifecycle event, e.g. "on_update".
	Name string
	Doc  Doc
	// Before is the document as it was before this save. Nil when the
	// host has no prior saved state.
	Before *Doc
	IsNew  bool
}

// hostDoc mirrors the host's JSON document. Values may arrive as JSON null.
type hostDoc struct {
	Name       string          `json:"name"`
	Doctype    string          `json:"doctype"`
	Subject    *string         `json:"subject"`
	Owner      *string         `json:"owner"`
	ModifiedBy *string         `json:"modified_by"`
	Assign     json.RawMessage `json:"_assign"`
	IsLocal    json.RawMessage `json:"__islocal"`
}

// hostEvent is the webhook body posted by the host.
type hostEvent struct {
	Doc    json.RawMessage `json:"doc"`
	Before json.RawMessage `json:"doc_before_save"`
	IsNew  *bool           `json:"is_new"`
}

// DecodeEvent builds an Event from a webhook body. doctype and event come
// from the request route; a doctype inside the document must agree.
func DecodeEvent(doctype, event string, body []byte) (Event, error) {
	var raw hostEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if isNull(raw.Doc) {
		return Event{}, fmt.Errorf("decode event: missing doc")
	}

	doc, local, err := decodeDoc(raw.Doc)
	if err != nil {
		return Event{}, fmt.Errorf("decode doc: %w", err)
	}
	if doc.Doctype == "" {
		doc.Doctype = doctype
	} else if !strings.EqualFold(doc.Doctype, doctype) {
		return Event{}, fmt.Errorf("decode event: doctype mismatch: route %q, doc %q", doctype, doc.Doctype)
	}

	ev := Event{Doctype: doctype, Name: event, Doc: doc, IsNew: local}
	if raw.IsNew != nil {
		ev.IsNew = *raw.IsNew
	}
	if !isNull(raw.Before) {
		before, _, err := decodeDoc(raw.Before)
		if err != nil {
			return Event{}, fmt.Errorf("decode doc_before_save: %w", err)
		}
		ev.Before = &before
	}
	return ev, nil
}

func decodeDoc(b []byte) (Doc, bool, error) {
	var h hostDoc
	if err := json.Unmarshal(b, &h); err != nil {
		return Doc{}, false, err
	}
	assign, err := assignField(h.Assign)
	if err != nil {
		return Doc{}, false, err
	}
	return Doc{
		Name:       h.Name,
		Doctype:    h.Doctype,
		Subject:    deref(h.Subject),
		Owner:      deref(h.Owner),
		ModifiedBy: deref(h.ModifiedBy),
		Assign:     assign,
	}, truthy(h.IsLocal), nil
}

// assignField accepts the host's native form (a JSON string holding the
// encoded list) and, for hosts that send it pre-decoded, a JSON array,
// which is kept verbatim as its serialized text.
func assignField(raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("_assign: %w", err)
		}
		return &s, nil
	case '[':
		s := string(trimmed)
		return &s, nil
	default:
		return nil, fmt.Errorf("_assign: unsupported JSON value %s", trimmed)
	}
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// truthy interprets Frappe-style flags: true, 1 or "1".
func truthy(raw json.RawMessage) bool {
	switch strings.Trim(string(bytes.TrimSpace(raw)), `"`) {
	case "true", "1":
		return true
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
