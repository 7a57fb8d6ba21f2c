// Package template substitutes {name} placeholders in prompts and action
// payloads from the execution context map.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Resolve replaces every {name} placeholder in s with the string form of
// the matching context value. Unknown placeholders are left intact so the
// agent sees what the author wrote instead of an empty hole.
func Resolve(s string, context map[string]any) string {
	if !strings.Contains(s, "{") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			b.WriteString(s)
			return b.String()
		}
		closing := strings.IndexByte(s[open:], '}')
		if closing < 0 {
			b.WriteString(s)
			return b.String()
		}
		closing += open
		name := s[open+1 : closing]
		b.WriteString(s[:open])
		if value, ok := lookup(name, context); ok {
			b.WriteString(Stringify(value))
		} else {
			b.WriteString(s[open : closing+1])
		}
		s = s[closing+1:]
	}
}

// ResolvePayload returns a copy of payload with placeholders resolved in
// every string value, recursing into nested maps and slices.
func ResolvePayload(payload map[string]any, context map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = resolveValue(v, context)
	}
	return out
}

func resolveValue(v any, context map[string]any) any {
	switch val := v.(type) {
	case string:
		return Resolve(val, context)
	case map[string]any:
		return ResolvePayload(val, context)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, context)
		}
		return out
	default:
		return v
	}
}

// lookup resolves a placeholder name. A flat key match wins; otherwise a
// dotted name walks nested maps, so {user.org.id} reaches into context
// values that arrived as JSON objects.
func lookup(name string, context map[string]any) (any, bool) {
	if name == "" {
		return nil, false
	}
	if v, ok := context[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var current any = context
	for _, part := range strings.Split(name, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a context value for interpolation. Strings pass
// through; numbers avoid the float "%v" exponent form; everything else
// falls back to compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
