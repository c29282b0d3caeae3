package decoder

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Message is an upstream payload kept as opaque JSON. Field access goes
// through alias lists so camelCase, snake_case, and abbreviated spellings
// all resolve; aliases are matched on a normalized key (lowercased,
// underscores removed).
type Message map[string]any

// ParseMessage decodes a raw JSON frame into a Message.
func ParseMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Containers whose fields are also searched, one level deep.
var nestedContainers = []string{"trade", "data", "event", "transaction", "tx", "result"}

func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(k), "_", "")
}

// lookup finds the first alias present, searching top level then known
// nested containers.
func (m Message) lookup(aliases ...string) (any, bool) {
	if v, ok := lookupIn(m, aliases); ok {
		return v, true
	}
	for _, container := range nestedContainers {
		nested, ok := m[container].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := lookupIn(nested, aliases); ok {
			return v, true
		}
	}
	return nil, false
}

func lookupIn(m map[string]any, aliases []string) (any, bool) {
	for _, alias := range aliases {
		want := normalizeKey(alias)
		for k, v := range m {
			if normalizeKey(k) == want && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

// Str returns the first string value among the aliases.
func (m Message) Str(aliases ...string) string {
	v, ok := m.lookup(aliases...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Uint returns the first numeric value among the aliases as uint64.
// String numerics are accepted; negative values report absent.
func (m Message) Uint(aliases ...string) (uint64, bool) {
	v, ok := m.lookup(aliases...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		return u, err == nil
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	}
	return 0, false
}

// Float returns the first numeric value among the aliases as float64.
func (m Message) Float(aliases ...string) (float64, bool) {
	v, ok := m.lookup(aliases...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns the first numeric value among the aliases as int.
func (m Message) Int(aliases ...string) (int, bool) {
	f, ok := m.Float(aliases...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Truthy reports whether any alias is present with a true-ish value.
func (m Message) Truthy(aliases ...string) bool {
	v, ok := m.lookup(aliases...)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b != "" && b != "0" && !strings.EqualFold(b, "false")
	}
	return true
}

// Has reports whether any alias is present at all.
func (m Message) Has(aliases ...string) bool {
	_, ok := m.lookup(aliases...)
	return ok
}

// Logs returns the program log lines if the message carries any.
func (m Message) Logs() []string {
	v, ok := m.lookup("logs", "log_messages")
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
