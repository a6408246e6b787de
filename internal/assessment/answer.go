package assessment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Answer holds one response value. Exactly one field is set for a present answer:
// Number for scale values, Text for single choices and free text, Choices for
// multi-select. On the wire it is the bare JSON value (2, "a", ["a","b"]).
type Answer struct {
	Number  *int     `json:"-" bson:"number,omitempty"`
	Text    *string  `json:"-" bson:"text,omitempty"`
	Choices []string `json:"-" bson:"choices,omitempty"`
}

// Responses maps question id to the current answer.
type Responses map[string]Answer

// Int builds a numeric answer.
func Int(v int) Answer { return Answer{Number: &v} }

// String builds a choice or free-text answer.
func String(s string) Answer { return Answer{Text: &s} }

// Strings builds a multi-select answer.
func Strings(vals ...string) Answer {
	if vals == nil {
		vals = []string{}
	}
	return Answer{Choices: vals}
}

// Empty reports whether no value is present, treating blank text and empty
// selections as unanswered.
func (a Answer) Empty() bool {
	switch {
	case a.Number != nil:
		return false
	case a.Text != nil:
		return strings.TrimSpace(*a.Text) == ""
	default:
		return len(a.Choices) == 0
	}
}

// Matches reports whether the answer's shape fits the response type.
func (a Answer) Matches(t ResponseType) bool {
	switch t {
	case TypeScale:
		return a.Number != nil
	case TypeSingleChoice, TypeText:
		return a.Text != nil && a.Number == nil
	case TypeMultiSelect:
		return a.Choices != nil && a.Number == nil && a.Text == nil
	}
	return false
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch {
	case a.Number != nil:
		return json.Marshal(*a.Number)
	case a.Text != nil:
		return json.Marshal(*a.Text)
	case a.Choices != nil:
		return json.Marshal(a.Choices)
	}
	return []byte("null"), nil
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	*a = Answer{}
	raw := bytes.TrimSpace(b)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		a.Text = &s
	case '[':
		var vals []string
		if err := json.Unmarshal(raw, &vals); err != nil {
			return fmt.Errorf("answer: selections must be strings: %w", err)
		}
		if vals == nil {
			vals = []string{}
		}
		a.Choices = vals
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("answer: unsupported value %s", raw)
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("answer: %v is not an integer", f)
		}
		if f < math.MinInt || f >= -math.MinInt {
			return fmt.Errorf("answer: %v out of range", f)
		}
		n := int(f)
		a.Number = &n
	}
	return nil
}

// Clone returns a deep copy of the response set.
func (r Responses) Clone() Responses {
	if r == nil {
		return Responses{}
	}
	out := make(Responses, len(r))
	for k, v := range r {
		cp := Answer{}
		if v.Number != nil {
			n := *v.Number
			cp.Number = &n
		}
		if v.Text != nil {
			s := *v.Text
			cp.Text = &s
		}
		if v.Choices != nil {
			cp.Choices = append([]string{}, v.Choices...)
		}
		out[k] = cp
	}
	return out
}
