package tools

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestUnknownParams(t *testing.T) {
	tests := []struct {
		name      string
		args      json.RawMessage
		knownKeys []string
		expected  []string
	}{
		{name: "empty args", args: json.RawMessage(`{}`), knownKeys: []string{"a"}},
		{name: "all known keys", args: json.RawMessage(`{"a": 1, "b": 2}`), knownKeys: []string{"a", "b"}},
		{name: "one unknown key", args: json.RawMessage(`{"a": 1, "xyz": true}`), knownKeys: []string{"a"}, expected: []string{"xyz"}},
		{name: "sorted", args: json.RawMessage(`{"z": 1, "a": 2, "b": 3}`), expected: []string{"a", "b", "z"}},
		{name: "invalid json", args: json.RawMessage(`not json`), knownKeys: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unknownParams(tt.args, tt.knownKeys)
			if strings.Join(got, ",") != strings.Join(tt.expected, ",") {
				t.Errorf("unknownParams() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCleanJobID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1934795512955801600", want: "1934795512955801600"},
		{in: " 1934795512955801600\n", want: "1934795512955801600"},
		{in: "https://prow.ci.openshift.org/view/gs/origin-ci-test/logs/periodic-ci-e2e/1934795512955801600", want: "1934795512955801600"},
		{in: "job 1934795512955801600 failed", want: "1934795512955801600"},
		{in: "12345", want: "12345"},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := cleanJobID(tt.in)
		if tt.wantErr {
			var te *ToolError
			if !errors.As(err, &te) || te.Type != ErrInvalidParams {
				t.Errorf("cleanJobID(%q) err = %v, want INVALID_PARAMS", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("cleanJobID(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestDecodeArgs(t *testing.T) {
	var a struct {
		Key string `json:"issue_key"`
	}
	if err := decodeArgs("t", nil, &a, "issue_key"); err != nil {
		t.Fatalf("empty args: %v", err)
	}
	if err := decodeArgs("t", json.RawMessage(`{"issue_key":"OCPBUGS-1","extra":1}`), &a, "issue_key"); err != nil || a.Key != "OCPBUGS-1" {
		t.Fatalf("decode = %+v, %v", a, err)
	}
	if err := decodeArgs("t", json.RawMessage(`[1]`), &a); err == nil {
		t.Fatal("expected error for non-object arguments")
	}
}

func TestTruncateOutput(t *testing.T) {
	short := "ok"
	if truncateOutput("t", short) != short {
		t.Fatal("short output changed")
	}
	long := strings.Repeat("line of output é\n", maxOutputSize/10)
	got := truncateOutput("t", long)
	if len(got) > maxOutputSize {
		t.Fatalf("truncated size = %d", len(got))
	}
	if !strings.HasSuffix(got, truncationNotice) {
		t.Fatal("missing truncation notice")
	}
	if body := strings.TrimSuffix(got, truncationNotice); !strings.HasSuffix(body, "é") {
		t.Fatalf("should cut at a line boundary, ends with %q", body[len(body)-10:])
	}
}
