package assign

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Diff compares two assignment lists. Current keeps the new list's order.
type Diff struct {
	Added   []string
	Removed []string
	Current []string
}

// ParseList decodes a serialized assignment list. Empty input is an empty
// list. Ids are trimmed, blank ids are dropped and repeats are collapsed
// to their first occurrence, so a user listed twice by the host is
// notified once per save rather than once per entry.
func ParseList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode assignment list: %w", err)
	}
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Compare builds the diff between an old and new list.
func Compare(oldIDs, newIDs []string) Diff {
	oldSet := make(map[string]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newIDs))
	d := Diff{Current: newIDs}
	for _, id := range newIDs {
		newSet[id] = struct{}{}
		if _, ok := oldSet[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}
	for _, id := range oldIDs {
		if _, ok := newSet[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}
