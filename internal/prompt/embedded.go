// Package prompt - Embedded loader for the LLM prompt templates.
// Templates are baked into the binary with go:embed so the agents carry no
// filesystem dependency for their prompts.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// embeddedTemplates contains every YAML prompt and shared partial.
//
//go:embed templates
var embeddedTemplates embed.FS

// templateFile matches the YAML structure in templates/*.yaml.
type templateFile struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	System      string `yaml:"system"`
	User        string `yaml:"user"`
}

// Template is one prompt pair ready for rendering.
type Template struct {
	ID          string
	Description string
	system      *template.Template
	user        *template.Template
}

// Corpus is the set of loaded templates keyed by ID.
type Corpus struct {
	templates map[string]*Template
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"json": func(v any) (string, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	},
	"trim": strings.TrimSpace,
}

// LoadEmbedded loads the baked-in templates. Partials under
// templates/partials are available to every template through {{template}}.
func LoadEmbedded() (*Corpus, error) {
	return load(embeddedTemplates, "templates")
}

func load(fsys fs.FS, root string) (*Corpus, error) {
	base := template.New("base").Funcs(funcs).Option("missingkey=error")

	partials, err := fs.Glob(fsys, path.Join(root, "partials", "*.tmpl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list partials: %w", err)
	}
	for _, p := range partials {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read partial %s: %w", p, err)
		}
		if _, err := base.New(path.Base(p)).Parse(string(data)); err != nil {
			return nil, fmt.Errorf("failed to parse partial %s: %w", p, err)
		}
	}

	files, err := fs.Glob(fsys, path.Join(root, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	c := &Corpus{templates: make(map[string]*Template, len(files))}
	for _, f := range files {
		t, err := parseTemplateFile(fsys, f, base)
		if err != nil {
			return nil, err
		}
		if _, dup := c.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate prompt id %q in %s", t.ID, f)
		}
		c.templates[t.ID] = t
	}
	return c, nil
}

func parseTemplateFile(fsys fs.FS, file string, base *template.Template) (*Template, error) {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded file: %w", err)
	}
	var raw templateFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML %s: %w", file, err)
	}
	if raw.ID == "" {
		raw.ID = strings.TrimSuffix(path.Base(file), path.Ext(file))
	}
	if strings.TrimSpace(raw.User) == "" {
		return nil, fmt.Errorf("prompt %s has no user template", raw.ID)
	}

	sys, err := cloneParse(base, raw.ID+".system", raw.System)
	if err != nil {
		return nil, err
	}
	user, err := cloneParse(base, raw.ID+".user", raw.User)
	if err != nil {
		return nil, err
	}
	return &Template{ID: raw.ID, Description: raw.Description, system: sys, user: user}, nil
}

func cloneParse(base *template.Template, name, text string) (*template.Template, error) {
	t, err := base.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone base template: %w", err)
	}
	t, err = t.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return t, nil
}

// Get returns the template with the given ID.
func (c *Corpus) Get(id string) (*Template, error) {
	t, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", id)
	}
	return t, nil
}

// IDs lists the loaded template IDs in sorted order.
func (c *Corpus) IDs() []string {
	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render executes both halves of the template with data.
func (t *Template) Render(data any) (system, user string, err error) {
	var sb, ub strings.Builder
	if err := t.system.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s system prompt: %w", t.ID, err)
	}
	if err := t.user.Execute(&ub, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s user prompt: %w", t.ID, err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(ub.String()), nil
}
