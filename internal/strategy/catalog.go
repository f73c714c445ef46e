package strategy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
	"optviz/internal/security"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Catalog is an immutable set of strategy templates keyed by id.
type Catalog struct {
	templates map[string]models.StrategyTemplate
	ids       []string
}

type catalogFile struct {
	Strategies []templateEntry `yaml:"strategies"`
}

type templateEntry struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description"`
	Sentiment    string           `yaml:"sentiment"`
	Proficiency  string           `yaml:"proficiency"`
	MaxProfit    string           `yaml:"maxProfit"`
	MaxLoss      string           `yaml:"maxLoss"`
	StrategyType string           `yaml:"strategyType"`
	Band         string           `yaml:"band"`
	Components   []models.LegSpec `yaml:"components"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(builtinCatalog))
}

// LoadCatalog parses a YAML catalog. Every template needs a unique id and
// valid components; the first problem found is returned.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, apperrors.Wrap(err, "failed to parse strategy catalog")
	}

	c := &Catalog{templates: make(map[string]models.StrategyTemplate, len(file.Strategies))}
	for _, e := range file.Strategies {
		id := strings.TrimSpace(e.ID)
		if err := security.ValidateStrategyID(id); err != nil {
			return nil, fmt.Errorf("strategy %q: %w", e.Name, err)
		}
		if _, dup := c.templates[id]; dup {
			return nil, apperrors.NewValidationError("id", id, "duplicate strategy id")
		}

		legs, err := models.LegsFromSpecs(e.Components)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", id, err)
		}

		name := e.Name
		if name == "" {
			name = id
		}
		c.templates[id] = models.StrategyTemplate{
			ID:           id,
			Name:         name,
			Description:  strings.TrimSpace(e.Description),
			Sentiment:    e.Sentiment,
			Proficiency:  e.Proficiency,
			MaxProfit:    e.MaxProfit,
			MaxLoss:      e.MaxLoss,
			StrategyType: e.StrategyType,
			Band:         e.Band,
			Components:   legs,
		}
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)

	return c, nil
}

// Get returns the template with the given id.
func (c *Catalog) Get(id string) (models.StrategyTemplate, error) {
	t, ok := c.templates[id]
	if !ok {
		return models.StrategyTemplate{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownStrategy, id)
	}
	return t, nil
}

// List returns every template ordered by id.
func (c *Catalog) List() []models.StrategyTemplate {
	out := make([]models.StrategyTemplate, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.templates[id])
	}
	return out
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.ids)
}
