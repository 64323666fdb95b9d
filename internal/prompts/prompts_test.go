package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const regressionPrompt = `name: regression-analysis
description: Analyze a component readiness regression
arguments:
  - name: test_details_url
    required: true
  - name: release
    default: "4.20"
  - name: extra
prompt: |
  Analyze {{.test_details_url}} for release {{.release}}.{{if .extra}} Note: {{.extra}}{{end}}
`

func TestLoadRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "regression.yaml"), regressionPrompt)
	writeFile(t, filepath.Join(dir, "jobs", "triage.yml"), "name: job-triage\ndescription: Triage a job\nhide: true\nprompt: Triage {{.job}}\narguments:\n  - name: job\n")
	writeFile(t, filepath.Join(dir, "draft.yaml.example"), "name: draft\nprompt: x\n")
	writeFile(t, filepath.Join(dir, "broken.yaml"), "name: [unclosed\n")
	writeFile(t, filepath.Join(dir, "noname.yaml"), "prompt: hi\n")
	writeFile(t, filepath.Join(dir, "README.md"), "# prompts\n")

	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	list := m.List()
	if len(list) != 2 || list[0].Name != "job-triage" || list[1].Name != "regression-analysis" {
		t.Fatalf("prompts = %+v", list)
	}
	if !list[0].Hide || list[0].Source != filepath.Join("jobs", "triage.yml") {
		t.Fatalf("job-triage = %+v", list[0])
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "regression.yaml"), regressionPrompt)
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    map[string]any
		want    string
		wantErr bool
	}{
		{
			name: "defaults fill in",
			args: map[string]any{"test_details_url": "https://sippy/x"},
			want: "Analyze https://sippy/x for release 4.20.\n",
		},
		{
			name: "provided values win",
			args: map[string]any{"test_details_url": "u", "release": "4.21", "extra": "flaky"},
			want: "Analyze u for release 4.21. Note: flaky\n",
		},
		{
			name: "nil falls back to default",
			args: map[string]any{"test_details_url": "u", "release": nil},
			want: "Analyze u for release 4.20.\n",
		},
		{
			name:    "missing required",
			args:    map[string]any{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Render("regression-analysis", tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := m.Render("nope", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMissingDirectory(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.List()) != 0 {
		t.Fatal("expected no prompts")
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "a.yaml"), "name: a\nprompt: hello\n")
	if err := m.Reload(); err != nil {
		t.Fatal(err)
	}
	if p, ok := m.Get("a"); !ok || p.Prompt != "hello" {
		t.Fatalf("prompt = %+v", p)
	}
}
