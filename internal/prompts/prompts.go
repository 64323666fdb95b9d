// Package prompts loads reusable prompt templates from YAML files and
// renders them with user-supplied arguments.
package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Render for an unknown prompt name.
var ErrNotFound = errors.New("prompt not found")

// Argument describes one template argument.
type Argument struct {
	Name         string `yaml:"name" json:"name"`
	Description  string `yaml:"description" json:"description,omitempty"`
	Required     bool   `yaml:"required" json:"required"`
	Type         string `yaml:"type" json:"type,omitempty"`
	Default      any    `yaml:"default" json:"default,omitempty"`
	Autocomplete string `yaml:"autocomplete" json:"autocomplete,omitempty"`
}

// Prompt is one template definition.
type Prompt struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Prompt      string     `yaml:"prompt" json:"-"`
	Arguments   []Argument `yaml:"arguments" json:"arguments"`
	Hide        bool       `yaml:"hide" json:"hide"`

	// Source is the file the prompt was loaded from, relative to the root.
	Source string `yaml:"-" json:"-"`
}

// Manager holds the prompts found under one directory.
type Manager struct {
	dir string

	mu      sync.RWMutex
	prompts map[string]*Prompt
}

// NewManager loads every prompt under dir. An empty or missing directory
// yields an empty manager.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{dir: dir, prompts: make(map[string]*Prompt)}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload rereads the directory. Invalid files are logged and skipped.
func (m *Manager) Reload() error {
	loaded, err := loadDir(m.dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.prompts = loaded
	m.mu.Unlock()
	log.WithFields(log.Fields{"component": "prompts", "dir": m.dir, "count": len(loaded)}).Info("loaded prompts")
	return nil
}

func loadDir(dir string) (map[string]*Prompt, error) {
	prompts := make(map[string]*Prompt)
	if dir == "" {
		return prompts, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		log.WithField("dir", dir).Warn("prompts directory not found")
		return prompts, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPromptFile(d.Name()) {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		p, err := loadFile(path)
		if err != nil {
			log.WithError(err).WithField("file", rel).Warn("skipping prompt file")
			return nil
		}
		p.Source = rel
		if prev, ok := prompts[p.Name]; ok {
			log.WithFields(log.Fields{"prompt": p.Name, "file": rel, "previous": prev.Source}).Warn("duplicate prompt name")
		}
		prompts[p.Name] = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk prompts dir: %w", err)
	}
	return prompts, nil
}

func isPromptFile(name string) bool {
	if strings.HasSuffix(name, ".example") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

func loadFile(path string) (*Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Prompt
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if p.Name == "" {
		return nil, errors.New("missing 'name' field")
	}
	return &p, nil
}

// List returns the prompts sorted by name.
func (m *Manager) List() []Prompt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Prompt, 0, len(m.prompts))
	for _, p := range m.prompts {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a prompt by name.
func (m *Manager) Get(name string) (Prompt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prompts[name]
	if !ok {
		return Prompt{}, false
	}
	return *p, true
}

// Render executes the named prompt with args merged over the argument
// defaults.
func (m *Manager) Render(name string, args map[string]any) (string, error) {
	p, ok := m.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p.Render(args)
}

// Render executes the prompt. Declared arguments with neither a value nor a
// default render as empty strings; a missing required argument is an error.
func (p Prompt) Render(args map[string]any) (string, error) {
	if strings.TrimSpace(p.Prompt) == "" {
		return "", nil
	}

	vars := make(map[string]any, len(p.Arguments))
	for _, arg := range p.Arguments {
		if v, ok := args[arg.Name]; ok && v != nil {
			vars[arg.Name] = v
			continue
		}
		if arg.Default != nil {
			vars[arg.Name] = arg.Default
			continue
		}
		if arg.Required {
			return "", fmt.Errorf("prompt %s: missing required argument %q", p.Name, arg.Name)
		}
		vars[arg.Name] = ""
	}

	tmpl, err := template.New(p.Name).Option("missingkey=zero").Parse(p.Prompt)
	if err != nil {
		return "", fmt.Errorf("parse prompt %s: %w", p.Name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", p.Name, err)
	}
	return sb.String(), nil
}
