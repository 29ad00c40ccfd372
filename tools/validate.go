package tools

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidArgs is returned when arguments do not satisfy a tool's schema.
var ErrInvalidArgs = errors.New("invalid tool arguments")

// ValidateArgs checks args against a JSON Schema subset: type, properties,
// required, additionalProperties (false only), enum, items, minimum, maximum,
// minLength. Unknown keywords are ignored. A nil schema accepts anything.
func ValidateArgs(schema Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateValue("args", map[string]any(schema), args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

func validateValue(path string, schema map[string]any, v any) error {
	if t, ok := schema["type"].(string); ok {
		if err := checkType(path, t, v); err != nil {
			return err
		}
	}

	if enum, ok := schema["enum"]; ok {
		if !inEnum(toSlice(enum), v) {
			return fmt.Errorf("%s: %v is not one of %v", path, v, enum)
		}
	}

	switch val := v.(type) {
	case map[string]any:
		return validateObject(path, schema, val)
	case []any:
		items, ok := asMap(schema["items"])
		if !ok {
			return nil
		}
		for i, item := range val {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), items, item); err != nil {
				return err
			}
		}
	case string:
		if n, ok := toFloat(schema["minLength"]); ok && float64(len([]rune(val))) < n {
			return fmt.Errorf("%s: shorter than %v characters", path, n)
		}
	default:
		if f, ok := toFloat(v); ok {
			if lo, ok := toFloat(schema["minimum"]); ok && f < lo {
				return fmt.Errorf("%s: %v is less than minimum %v", path, f, lo)
			}
			if hi, ok := toFloat(schema["maximum"]); ok && f > hi {
				return fmt.Errorf("%s: %v is greater than maximum %v", path, f, hi)
			}
		}
	}
	return nil
}

func validateObject(path string, schema map[string]any, obj map[string]any) error {
	for _, key := range toStrings(schema["required"]) {
		if _, ok := obj[key]; !ok {
			return fmt.Errorf("%s: missing required field %q", path, key)
		}
	}

	props, _ := asMap(schema["properties"])
	closed := false
	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		closed = true
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		propSchema, ok := asMap(props[k])
		if !ok {
			if closed {
				return fmt.Errorf("%s: unexpected field %q", path, k)
			}
			continue
		}
		if err := validateValue(path+"."+k, propSchema, obj[k]); err != nil {
			return err
		}
	}
	return nil
}

func checkType(path, want string, v any) error {
	ok := false
	switch want {
	case "object":
		_, ok = v.(map[string]any)
	case "array":
		_, ok = v.([]any)
	case "string":
		_, ok = v.(string)
	case "boolean":
		_, ok = v.(bool)
	case "number":
		_, ok = toFloat(v)
	case "integer":
		var f float64
		f, ok = toFloat(v)
		ok = ok && f == math.Trunc(f)
	case "null":
		ok = v == nil
	default:
		return nil
	}
	if !ok {
		return fmt.Errorf("%s: expected %s, got %s", path, want, typeName(v))
	}
	return nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func inEnum(enum []any, v any) bool {
	for _, e := range enum {
		if ef, ok := toFloat(e); ok {
			if vf, ok := toFloat(v); ok && ef == vf {
				return true
			}
			continue
		}
		if e == v {
			return true
		}
	}
	return false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Schema:
		return map[string]any(m), true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// toSlice accepts both []any (decoded JSON/YAML) and []string (Go literals).
func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	}
	return nil
}

func toStrings(v any) []string {
	var out []string
	for _, x := range toSlice(v) {
		if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
