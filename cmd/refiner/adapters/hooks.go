package adapters

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/lyzr/refinery/cmd/refiner/models"
)

//go:embed hooks.yaml
var defaultHooks []byte

// Catalogue is the set of hooks a generator may open with
type Catalogue struct {
	hooks []models.Hook
	pick  func(n int) int
}

// CatalogueOption configures a Catalogue
type CatalogueOption func(*Catalogue)

// WithPicker replaces the random index source (tests)
func WithPicker(pick func(n int) int) CatalogueOption {
	return func(c *Catalogue) { c.pick = pick }
}

// LoadCatalogue reads hooks from path, or the embedded list when path is empty
func LoadCatalogue(path string, opts ...CatalogueOption) (*Catalogue, error) {
	data := defaultHooks
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading hooks file: %w", err)
		}
		data = b
	}
	return ParseCatalogue(data, opts...)
}

// ParseCatalogue parses a YAML hook list
func ParseCatalogue(data []byte, opts ...CatalogueOption) (*Catalogue, error) {
	var hooks []models.Hook
	if err := yaml.Unmarshal(data, &hooks); err != nil {
		return nil, fmt.Errorf("parsing hooks: %w", err)
	}
	if len(hooks) == 0 {
		return nil, fmt.Errorf("hook catalogue is empty")
	}

	seen := make(map[string]struct{}, len(hooks))
	for _, h := range hooks {
		if h.ID == "" || h.Instruction == "" {
			return nil, fmt.Errorf("hook %q: id and instruction are required", h.Name)
		}
		if _, dup := seen[h.ID]; dup {
			return nil, fmt.Errorf("duplicate hook id %q", h.ID)
		}
		seen[h.ID] = struct{}{}
	}

	c := &Catalogue{hooks: hooks, pick: rand.IntN}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Hooks returns the catalogue in file order
func (c *Catalogue) Hooks() []models.Hook {
	return slices.Clone(c.hooks)
}

// Get looks a hook up by id
func (c *Catalogue) Get(id string) (models.Hook, bool) {
	for _, h := range c.hooks {
		if h.ID == id {
			return h, true
		}
	}
	return models.Hook{}, false
}

// Select picks a hook not in excluded. When every hook is excluded the whole
// catalogue is eligible again.
func (c *Catalogue) Select(excluded []string) models.Hook {
	candidates := make([]models.Hook, 0, len(c.hooks))
	for _, h := range c.hooks {
		if !slices.Contains(excluded, h.ID) {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		candidates = c.hooks
	}
	return candidates[c.pick(len(candidates))]
}
