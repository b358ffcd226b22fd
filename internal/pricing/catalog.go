package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kbook/checkout/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ErrInvalidCatalog is returned when a shipping catalog document fails validation.
var ErrInvalidCatalog = errors.New("pricing: invalid shipping catalog")

// Catalog is the fixed set of shipping tiers.
type Catalog struct {
	options []domain.ShippingOption
	byID    map[domain.ShippingOptionID]domain.ShippingOption
}

type catalogDocument struct {
	Options []catalogEntry `yaml:"options"`
}

type catalogEntry struct {
	ID      string `yaml:"id"`
	Label   string `yaml:"label"`
	Extra   string `yaml:"extra"`
	MinDays int    `yaml:"min_days"`
	MaxDays int    `yaml:"max_days"`
}

// DefaultCatalog returns the embedded standard/fast catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("pricing: embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog parses and validates a YAML catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	c := &Catalog{byID: make(map[domain.ShippingOptionID]domain.ShippingOption, len(doc.Options))}
	for _, entry := range doc.Options {
		id := domain.ShippingOptionID(strings.ToLower(strings.TrimSpace(entry.ID)))
		if id != domain.ShippingStandard && id != domain.ShippingFast {
			return nil, fmt.Errorf("%w: unsupported option %q", ErrInvalidCatalog, entry.ID)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate option %q", ErrInvalidCatalog, id)
		}
		extra, err := decimal.NewFromString(strings.TrimSpace(entry.Extra))
		if err != nil || extra.IsNegative() {
			return nil, fmt.Errorf("%w: option %q has invalid extra %q", ErrInvalidCatalog, id, entry.Extra)
		}
		if entry.MinDays <= 0 || entry.MaxDays < entry.MinDays {
			return nil, fmt.Errorf("%w: option %q has invalid window %d-%d", ErrInvalidCatalog, id, entry.MinDays, entry.MaxDays)
		}
		label := strings.TrimSpace(entry.Label)
		if label == "" {
			label = string(id)
		}
		opt := domain.ShippingOption{
			ID:      id,
			Label:   label,
			Extra:   extra.Round(2),
			MinDays: entry.MinDays,
			MaxDays: entry.MaxDays,
		}
		c.options = append(c.options, opt)
		c.byID[id] = opt
	}

	if len(c.options) != 2 {
		return nil, fmt.Errorf("%w: expected standard and fast, got %d options", ErrInvalidCatalog, len(c.options))
	}
	return c, nil
}

// Options returns the tiers in catalog order.
func (c *Catalog) Options() []domain.ShippingOption {
	out := make([]domain.ShippingOption, len(c.options))
	copy(out, c.options)
	return out
}

// Lookup finds a tier by id.
func (c *Catalog) Lookup(id domain.ShippingOptionID) (domain.ShippingOption, bool) {
	opt, ok := c.byID[domain.ShippingOptionID(strings.ToLower(strings.TrimSpace(string(id))))]
	return opt, ok
}

// Default is the standard tier.
func (c *Catalog) Default() domain.ShippingOption {
	return c.byID[domain.ShippingStandard]
}

// Resolve returns the tier for id, falling back to standard.
func (c *Catalog) Resolve(id domain.ShippingOptionID) domain.ShippingOption {
	if opt, ok := c.Lookup(id); ok {
		return opt
	}
	return c.Default()
}
