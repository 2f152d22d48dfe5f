// Package catalog holds the static workspace catalog: ids, descriptions,
// keywords, tables and the exemplar phrases that seed similarity retrieval.
// A Catalog is immutable once built and is shared by all requests.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultWorkspaceID is chosen when no candidate shows any signal.
const DefaultWorkspaceID = "general"

type Exemplar struct {
	Phrase string `yaml:"phrase" json:"phrase"`
	Intent string `yaml:"intent,omitempty" json:"intent,omitempty"`
}

type Workspace struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Keywords    []string   `yaml:"keywords" json:"keywords"`
	Tables      []string   `yaml:"tables" json:"tables"`
	Exemplars   []Exemplar `yaml:"exemplars" json:"exemplars"`
}

type Catalog struct {
	workspaces []Workspace
	byID       map[string]int
	byFolded   map[string]string
}

type file struct {
	Workspaces []Workspace `yaml:"workspaces"`
}

// New validates and freezes the given workspaces in declaration order.
func New(workspaces []Workspace) (*Catalog, error) {
	if len(workspaces) == 0 {
		return nil, fmt.Errorf("catalog has no workspaces")
	}

	c := &Catalog{
		workspaces: make([]Workspace, 0, len(workspaces)),
		byID:       make(map[string]int, len(workspaces)),
		byFolded:   make(map[string]string, len(workspaces)),
	}

	for i, ws := range workspaces {
		ws.ID = strings.TrimSpace(ws.ID)
		if ws.ID == "" {
			return nil, fmt.Errorf("workspace %d has an empty id", i)
		}
		folded := strings.ToLower(ws.ID)
		if _, dup := c.byFolded[folded]; dup {
			return nil, fmt.Errorf("duplicate workspace id %q", ws.ID)
		}
		if ws.Name == "" {
			ws.Name = ws.ID
		}
		ws.Keywords = foldAll(ws.Keywords)
		ws.Tables = append([]string(nil), ws.Tables...)
		ws.Exemplars = append([]Exemplar(nil), ws.Exemplars...)

		c.byID[ws.ID] = len(c.workspaces)
		c.byFolded[folded] = ws.ID
		c.workspaces = append(c.workspaces, ws)
	}

	return c, nil
}

// Load reads a YAML catalog file with a top-level "workspaces" list.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f.Workspaces)
}

// LoadOrDefault loads path, or the built-in sample catalog when path is empty.
func LoadOrDefault(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func (c *Catalog) Len() int {
	return len(c.workspaces)
}

// Workspaces returns a copy of the workspaces in declaration order.
func (c *Catalog) Workspaces() []Workspace {
	out := make([]Workspace, len(c.workspaces))
	copy(out, c.workspaces)
	return out
}

func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.workspaces))
	for i, ws := range c.workspaces {
		ids[i] = ws.ID
	}
	return ids
}

func (c *Catalog) Get(id string) (Workspace, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Workspace{}, false
	}
	return c.workspaces[i], true
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Resolve matches id case-insensitively and returns the canonical id.
func (c *Catalog) Resolve(id string) (string, bool) {
	canonical, ok := c.byFolded[strings.ToLower(strings.TrimSpace(id))]
	return canonical, ok
}

// Order returns the declaration position of id, or -1.
func (c *Catalog) Order(id string) int {
	i, ok := c.byID[id]
	if !ok {
		return -1
	}
	return i
}

// DefaultWorkspace is "general" when declared, otherwise the first entry.
func (c *Catalog) DefaultWorkspace() string {
	if c.Has(DefaultWorkspaceID) {
		return DefaultWorkspaceID
	}
	return c.workspaces[0].ID
}

// ExemplarCount is the number of phrases the similarity index will hold.
func (c *Catalog) ExemplarCount() int {
	n := 0
	for _, ws := range c.workspaces {
		n += len(ws.Exemplars)
	}
	return n
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
