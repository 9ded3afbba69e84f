package selector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"wasmtoolchain/internal/toolerr"
)

//go:embed data/components.yaml
var embeddedCatalog []byte

// Component is a named set of interchangeable implementations.
type Component struct {
	Name            string           `yaml:"-" json:"name"`
	Description     string           `yaml:"description,omitempty" json:"description,omitempty"`
	DefaultStrategy string           `yaml:"default_strategy,omitempty" json:"default_strategy,omitempty"`
	Implementations []Implementation `yaml:"implementations" json:"implementations"`
}

// Catalog is the read-only set of known components.
type Catalog struct {
	components map[string]Component
}

type catalogFile struct {
	Components map[string]Component `yaml:"components"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}

// LoadCatalog reads a catalog file from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	var errs []error
	components := make(map[string]Component, len(doc.Components))
	for name, c := range doc.Components {
		c.Name = name
		if c.DefaultStrategy != "" {
			if _, err := ParseStrategy(c.DefaultStrategy); err != nil {
				errs = append(errs, fmt.Errorf("component %s: %w", name, err))
			}
		}
		seen := map[string]bool{}
		for _, impl := range c.Implementations {
			switch {
			case impl.Name == "":
				errs = append(errs, fmt.Errorf("component %s: implementation without a name", name))
			case seen[impl.Name]:
				errs = append(errs, fmt.Errorf("component %s: duplicate implementation %s", name, impl.Name))
			case impl.Tool == "" && impl.Path == "":
				errs = append(errs, fmt.Errorf("component %s: implementation %s needs a tool or a path", name, impl.Name))
			}
			seen[impl.Name] = true
		}
		components[name] = c
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Catalog{components: components}, nil
}

// Names returns every component name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Component returns the named component.
func (c *Catalog) Component(name string) (Component, error) {
	comp, ok := c.components[name]
	if !ok {
		return Component{}, toolerr.New(toolerr.KindInvalidInput).
			Detail("unknown component %q", name).
			Alternatives(c.Names()...).
			Build()
	}
	return comp, nil
}
