package v1

import "strings"

// Predicate is a declarative match condition evaluated against a decoded
// inbound message before it is mapped to a typed command. Paths are dotted
// ("after.SUBJECT_ID"). A message matches when every required path is
// present, no forbidden path is present, and every exact-value constraint
// holds.
type Predicate struct {
	Required  []string
	Forbidden []string
	Exact     map[string]string
}

// ChangeEventPredicate matches raw CDC change rows from the legacy feed and
// rejects the relay's own bus traffic (anything carrying event_name).
func ChangeEventPredicate() Predicate {
	return Predicate{
		Required: []string{
			"table", "op_type", "op_ts", "pos",
			"after.CHANGE_ID", "after.SUBJECT_ID", "after.TABLE_NAME",
		},
		Forbidden: []string{"event_name"},
	}
}

// Matches reports whether the decoded message satisfies the predicate.
func (p Predicate) Matches(doc map[string]interface{}) bool {
	for _, path := range p.Required {
		if _, ok := lookup(doc, path); !ok {
			return false
		}
	}
	for _, path := range p.Forbidden {
		if _, ok := lookup(doc, path); ok {
			return false
		}
	}
	for path, want := range p.Exact {
		value, ok := lookup(doc, path)
		if !ok {
			return false
		}
		got, ok := value.(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// lookup walks a dotted path through nested JSON objects.
// A present-but-null leaf counts as absent.
func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	current := doc
	for i, part := range parts {
		value, ok := current[part]
		if !ok || value == nil {
			return nil, false
		}
		if i == len(parts)-1 {
			return value, true
		}
		current, ok = value.(map[string]interface{})
		if !ok {
			return nil, false
		}
	}
	return nil, false
}
