package eval

import (
	"encoding/json"
	"reflect"

	"github.com/linanwx/supportbot/provider"
)

// Score holds the three independent predicates for one tool call.
type Score struct {
	NameMatch     bool `json:"nameMatch"`
	ArgKeysSubset bool `json:"argKeysSubset"`
	ExactArgs     bool `json:"exactArgs"`
}

// Success is name match and arg-key subset. ExactArgs is informational.
func (s Score) Success() bool {
	return s.NameMatch && s.ArgKeysSubset
}

// ScoreCall evaluates actual against expected.
func ScoreCall(actual, expected provider.ToolCall) Score {
	return Score{
		NameMatch:     NameMatch(actual, expected),
		ArgKeysSubset: ArgKeysSubset(actual, expected),
		ExactArgs:     ExactArgs(actual, expected),
	}
}

// NameMatch is exact tool name equality.
func NameMatch(actual, expected provider.ToolCall) bool {
	return actual.Name == expected.Name
}

// ArgKeysSubset reports whether every key in actual's args also appears in
// expected's args. Expected keys missing from actual do not fail it.
func ArgKeysSubset(actual, expected provider.ToolCall) bool {
	for k := range actual.Args {
		if _, ok := expected.Args[k]; !ok {
			return false
		}
	}
	return true
}

// ExactArgs is deep equality of args after normalizing both through JSON, so
// a YAML int and a decoded JSON float compare equal.
func ExactArgs(actual, expected provider.ToolCall) bool {
	a, errA := normalize(actual.Args)
	b, errB := normalize(expected.Args)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func normalize(args map[string]any) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
