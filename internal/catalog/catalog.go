package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is one immutable entry of the permission catalog. The catalog is
// maintained outside this service and loaded at startup; the core never
// mutates it.
type Definition struct {
	Key        string `yaml:"key" json:"key"`
	Module     string `yaml:"module" json:"module"`
	Resource   string `yaml:"resource" json:"resource"`
	Action     string `yaml:"action" json:"action"`
	Category   string `yaml:"category" json:"category"`
	Scope      string `yaml:"scope" json:"scope"`
	Severity   string `yaml:"severity" json:"severity"`
	Active     bool   `yaml:"active" json:"active"`
	Deprecated bool   `yaml:"deprecated" json:"deprecated"`
}

// Catalog indexes permission definitions for evaluation-time lookups.
type Catalog struct {
	defs     []Definition
	byKey    map[string]int
	byTarget map[string]int
}

func targetKey(resource, action string) string {
	return resource + "\x00" + action
}

// New builds a catalog from definitions. Later duplicates of a key or of a
// (resource, action) pair are rejected: the catalog is authoritative and a
// duplicate always signals an editing mistake upstream.
func New(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:     make([]Definition, 0, len(defs)),
		byKey:    make(map[string]int, len(defs)),
		byTarget: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		d.Key = strings.TrimSpace(d.Key)
		if d.Key == "" {
			return nil, fmt.Errorf("catalog: definition without key (resource=%s action=%s)", d.Resource, d.Action)
		}
		if d.Resource == "" || d.Action == "" {
			return nil, fmt.Errorf("catalog: definition %s missing resource or action", d.Key)
		}
		if _, ok := c.byKey[d.Key]; ok {
			return nil, fmt.Errorf("catalog: duplicate key %s", d.Key)
		}
		tk := targetKey(d.Resource, d.Action)
		if _, ok := c.byTarget[tk]; ok {
			return nil, fmt.Errorf("catalog: duplicate target %s/%s", d.Resource, d.Action)
		}
		c.defs = append(c.defs, d)
		c.byKey[d.Key] = len(c.defs) - 1
		c.byTarget[tk] = len(c.defs) - 1
	}
	return c, nil
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML catalog bytes.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Permissions []Definition `yaml:"permissions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(doc.Permissions)
}

// Lookup returns the definition for a permission key.
func (c *Catalog) Lookup(key string) (Definition, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// ActiveFor returns the active, non-deprecated definition covering
// (resource, action). The super-admin short-circuit uses this: a top-level
// role is implicitly bound to the whole non-deprecated catalog.
func (c *Catalog) ActiveFor(resource, action string) (Definition, bool) {
	i, ok := c.byTarget[targetKey(resource, action)]
	if !ok {
		return Definition{}, false
	}
	d := c.defs[i]
	if !d.Active || d.Deprecated {
		return Definition{}, false
	}
	return d, true
}

// Definitions returns the catalog entries in declaration order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len reports the number of definitions.
func (c *Catalog) Len() int { return len(c.defs) }
