package analysis

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed prompts/categories.toml
var defaultCatalogue []byte

// Category kinds select the sampling predicate and the aggregate statistics
const (
	KindUsers   = "users"
	KindGPOs    = "gpos"
	KindGeneric = "generic"
)

// Category is one analysable slice of the assessment document
type Category struct {
	ID           string   `toml:"id"`
	Name         string   `toml:"name"`
	Keys         []string `toml:"keys"`
	Kind         string   `toml:"kind"`
	Instructions string   `toml:"instructions"`
}

// Catalogue is the ordered list of categories plus the shared prompt preamble
type Catalogue struct {
	Preamble   string     `toml:"preamble"`
	Categories []Category `toml:"category"`
}

// DefaultCatalogue parses the embedded catalogue
func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(defaultCatalogue)
}

// ParseCatalogue decodes and validates a TOML catalogue
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("decode category catalogue: %w", err)
	}
	if len(c.Categories) == 0 {
		return nil, fmt.Errorf("category catalogue is empty")
	}

	seen := make(map[string]bool, len(c.Categories))
	for i := range c.Categories {
		cat := &c.Categories[i]
		if cat.ID == "" {
			return nil, fmt.Errorf("category %d has no id", i)
		}
		if seen[cat.ID] {
			return nil, fmt.Errorf("duplicate category id %q", cat.ID)
		}
		seen[cat.ID] = true
		if cat.Name == "" {
			cat.Name = cat.ID
		}
		if len(cat.Keys) == 0 {
			cat.Keys = []string{cat.Name}
		}
		switch cat.Kind {
		case "":
			cat.Kind = KindGeneric
		case KindUsers, KindGPOs, KindGeneric:
		default:
			return nil, fmt.Errorf("category %q has unknown kind %q", cat.ID, cat.Kind)
		}
		cat.Instructions = strings.TrimSpace(cat.Instructions)
	}
	c.Preamble = strings.TrimSpace(c.Preamble)
	return &c, nil
}

// IDs returns category ids in processing order
func (c *Catalogue) IDs() []string {
	ids := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		ids[i] = cat.ID
	}
	return ids
}

// Get looks a category up by id
func (c *Catalogue) Get(id string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}
