// Package template substitutes {{json.<key>}} placeholders with values from an
// item's JSON. Nothing else is evaluated.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var placeholder = regexp.MustCompile(`\{\{\s*json\.([^{}\s]+)\s*\}\}`)

// Render replaces every {{json.key}} in s with item[key]. Strings are inserted
// verbatim, other values as compact JSON. Unknown keys render as an empty string.
func Render(s string, item map[string]any) string {
	if len(s) < 4 || !placeholder.MatchString(s) {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		value, ok := item[key]
		if !ok || value == nil {
			return ""
		}
		return stringify(value)
	})
}

// RenderValue applies Render to every string inside v, descending into maps and slices
func RenderValue(v any, item map[string]any) any {
	switch t := v.(type) {
	case string:
		return Render(t, item)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = RenderValue(vv, item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = RenderValue(t[i], item)
		}
		return out
	default:
		return v
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool, float64, float32, int, int64, int32:
		return fmt.Sprint(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
