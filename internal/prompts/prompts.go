// Package prompts holds the versioned extraction prompt templates.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var embeddedPrompts []byte

// Data is the template input.
type Data struct {
	Now      string
	Timezone string
	Message  string
}

// Rendered is a prompt ready to send.
type Rendered struct {
	Version string
	System  string
	User    string
}

type templateSource struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type fileFormat struct {
	Default  string                    `yaml:"default"`
	Versions map[string]templateSource `yaml:"versions"`
}

type compiled struct {
	system *template.Template
	user   *template.Template
}

// Store serves one selected prompt version and can be reloaded from an override file.
type Store struct {
	mu       sync.RWMutex
	version  string
	path     string
	selected string
	versions map[string]compiled
}

// NewStore loads the embedded templates, then the override file at path when set.
// An empty version selects the file's default.
func NewStore(version, path string) (*Store, error) {
	s := &Store{version: version, path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads templates. On error the previously loaded templates stay active.
func (s *Store) Reload() error {
	data := embeddedPrompts
	if s.path != "" {
		raw, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("failed to read prompt file: %w", err)
		}
		data = raw
	}

	versions, def, err := parse(data)
	if err != nil {
		return err
	}

	selected := s.version
	if selected == "" {
		selected = def
	}
	if _, ok := versions[selected]; !ok {
		return fmt.Errorf("prompt version %q not defined", selected)
	}

	s.mu.Lock()
	s.versions = versions
	s.selected = selected
	s.mu.Unlock()
	return nil
}

func parse(data []byte) (map[string]compiled, string, error) {
	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	if len(file.Versions) == 0 {
		return nil, "", fmt.Errorf("prompt templates define no versions")
	}

	out := make(map[string]compiled, len(file.Versions))
	for name, src := range file.Versions {
		if src.User == "" {
			return nil, "", fmt.Errorf("prompt version %q has no user template", name)
		}
		system, err := template.New(name + ".system").Option("missingkey=error").Parse(src.System)
		if err != nil {
			return nil, "", fmt.Errorf("prompt version %q system template: %w", name, err)
		}
		user, err := template.New(name + ".user").Option("missingkey=error").Parse(src.User)
		if err != nil {
			return nil, "", fmt.Errorf("prompt version %q user template: %w", name, err)
		}
		out[name] = compiled{system: system, user: user}
	}
	return out, file.Default, nil
}

// Version returns the active version name.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Path returns the override file path, if any.
func (s *Store) Path() string {
	return s.path
}

// Render renders the active version.
func (s *Store) Render(data Data) (*Rendered, error) {
	s.mu.RLock()
	version := s.selected
	tmpl := s.versions[version]
	s.mu.RUnlock()

	var system, user bytes.Buffer
	if err := tmpl.system.Execute(&system, data); err != nil {
		return nil, fmt.Errorf("failed to render system prompt: %w", err)
	}
	if err := tmpl.user.Execute(&user, data); err != nil {
		return nil, fmt.Errorf("failed to render user prompt: %w", err)
	}
	return &Rendered{Version: version, System: system.String(), User: user.String()}, nil
}
