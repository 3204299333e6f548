package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProjectNumberArg is a per-call project number, supplied by the caller
// either as a number or as a decimal string. The zero value means the caller
// supplied nothing.
type ProjectNumberArg struct {
	Numeric *int64
	Text    *string
}

// ProjectNumber returns an argument carrying a numeric value.
func ProjectNumber(n int64) ProjectNumberArg {
	return ProjectNumberArg{Numeric: &n}
}

// ProjectNumberText returns an argument carrying a string value.
func ProjectNumberText(s string) ProjectNumberArg {
	return ProjectNumberArg{Text: &s}
}

// IsZero reports whether no value was supplied.
func (a ProjectNumberArg) IsZero() bool {
	return a.Numeric == nil && a.Text == nil
}

// UnmarshalJSON accepts a JSON number, a JSON string or null. A number that
// is not an integer is kept as text so resolution reports it as invalid.
func (a *ProjectNumberArg) UnmarshalJSON(data []byte) error {
	*a = ProjectNumberArg{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.Text = &s
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("project number must be a number or a string: %w", err)
	}
	if n, err := num.Int64(); err == nil {
		a.Numeric = &n
		return nil
	}
	s := num.String()
	a.Text = &s
	return nil
}

// MarshalJSON emits the numeric form when present, otherwise the text form.
func (a ProjectNumberArg) MarshalJSON() ([]byte, error) {
	switch {
	case a.Numeric != nil:
		return json.Marshal(*a.Numeric)
	case a.Text != nil:
		return json.Marshal(*a.Text)
	default:
		return []byte("null"), nil
	}
}

// ResolveProjectNumber picks the project number from, in order: the call's
// numeric value, the call's string value, the statically configured string.
// Blank strings count as absent. No default is ever substituted.
func ResolveProjectNumber(call ProjectNumberArg, static string) (int64, error) {
	if call.Numeric != nil {
		return *call.Numeric, nil
	}
	if call.Text != nil && !isBlank(*call.Text) {
		return parseProjectNumber(*call.Text)
	}
	if !isBlank(static) {
		return parseProjectNumber(static)
	}
	return 0, fmt.Errorf("%w: missing project number; set cloud_project_number in the broker config or pass cloudProjectNumber in the request", ErrConfig)
}

func parseProjectNumber(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: project number %q is not a valid integer", ErrConfig, v)
	}
	return n, nil
}

func isBlank(v string) bool {
	return strings.TrimSpace(v) == ""
}
