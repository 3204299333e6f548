package broker

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestResolveProjectNumberPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		call    ProjectNumberArg
		static  string
		want    int64
		wantErr string
	}{
		{"numeric wins", ProjectNumberArg{Numeric: ptr(int64(7)), Text: ptr("9")}, "11", 7, ""},
		{"string before static", ProjectNumberText("9"), "11", 9, ""},
		{"static fallback", ProjectNumberArg{}, "11", 11, ""},
		{"blank call string falls through", ProjectNumberText("  "), "11", 11, ""},
		{"all absent", ProjectNumberArg{}, "", 0, "missing project number"},
		{"call string not integer", ProjectNumberText("abc"), "", 0, "not a valid integer"},
		{"static not integer", ProjectNumberArg{}, "12x", 0, "not a valid integer"},
		{"no trimming", ProjectNumberText(" 12"), "", 0, "not a valid integer"},
		{"invalid call string shadows static", ProjectNumberText("abc"), "11", 0, "not a valid integer"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ResolveProjectNumber(c.call, c.static)
			if c.wantErr != "" {
				if !errors.Is(err, ErrConfig) {
					t.Fatalf("err = %v, want ErrConfig", err)
				}
				if !strings.Contains(err.Error(), c.wantErr) {
					t.Fatalf("err = %q, want it to mention %q", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Fatalf("got %d, want %d", got, c.want)
			}
		})
	}
}

func TestProjectNumberArgUnmarshal(t *testing.T) {
	var req struct {
		PN ProjectNumberArg `json:"cloudProjectNumber"`
	}

	if err := json.Unmarshal([]byte(`{"cloudProjectNumber": 123456789012}`), &req); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if req.PN.Numeric == nil || *req.PN.Numeric != 123456789012 || req.PN.Text != nil {
		t.Fatalf("number decoded as %+v", req.PN)
	}

	if err := json.Unmarshal([]byte(`{"cloudProjectNumber": "42"}`), &req); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if req.PN.Text == nil || *req.PN.Text != "42" || req.PN.Numeric != nil {
		t.Fatalf("string decoded as %+v", req.PN)
	}

	if err := json.Unmarshal([]byte(`{"cloudProjectNumber": null}`), &req); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !req.PN.IsZero() {
		t.Fatalf("null decoded as %+v", req.PN)
	}

	if err := json.Unmarshal([]byte(`{"cloudProjectNumber": 1.5}`), &req); err != nil {
		t.Fatalf("unmarshal fraction: %v", err)
	}
	if _, err := ResolveProjectNumber(req.PN, ""); !errors.Is(err, ErrConfig) {
		t.Fatalf("fractional project number resolved, err = %v", err)
	}

	if err := json.Unmarshal([]byte(`{"cloudProjectNumber": true}`), &req); err == nil {
		t.Fatal("expected error for boolean project number")
	}
}

func TestProjectNumberArgMarshal(t *testing.T) {
	cases := []struct {
		in   ProjectNumberArg
		want string
	}{
		{ProjectNumber(5), `5`},
		{ProjectNumberText("6"), `"6"`},
		{ProjectNumberArg{}, `null`},
	}
	for _, c := range cases {
		got, err := json.Marshal(c.in)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(got) != c.want {
			t.Errorf("marshal = %s, want %s", got, c.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }
