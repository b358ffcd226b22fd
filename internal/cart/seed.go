package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kbook/checkout/internal/domain"
)

// ErrInvalidSeed is returned when a seed document cannot be used.
var ErrInvalidSeed = errors.New("cart: invalid seed")

type seedDocument struct {
	Carts map[string][]seedLine `yaml:"carts"`
}

type seedLine struct {
	BookID   string `yaml:"book_id"`
	Title    string `yaml:"title"`
	Format   string `yaml:"format"`
	Price    string `yaml:"price"`
	Quantity int    `yaml:"quantity"`
}

// LoadSeed parses a YAML document of carts keyed by customer id.
//
//	carts:
//	  cust-1:
//	    - book_id: b1
//	      title: Rayuela
//	      format: Tapa dura
//	      price: "19.90"
//	      quantity: 1
func LoadSeed(data []byte) (map[string][]domain.CartItem, error) {
	var doc seedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	out := make(map[string][]domain.CartItem, len(doc.Carts))
	for customerID, lines := range doc.Carts {
		customerID = strings.TrimSpace(customerID)
		if customerID == "" {
			return nil, fmt.Errorf("%w: blank customer id", ErrInvalidSeed)
		}
		items := make([]domain.CartItem, 0, len(lines))
		for i, line := range lines {
			price, err := decimal.NewFromString(strings.TrimSpace(line.Price))
			if err != nil || price.IsNegative() {
				return nil, fmt.Errorf("%w: %s line %d has invalid price %q", ErrInvalidSeed, customerID, i+1, line.Price)
			}
			if strings.TrimSpace(line.BookID) == "" || line.Quantity <= 0 {
				return nil, fmt.Errorf("%w: %s line %d needs a book id and a positive quantity", ErrInvalidSeed, customerID, i+1)
			}
			items = append(items, domain.CartItem{
				BookID:    strings.TrimSpace(line.BookID),
				Title:     strings.TrimSpace(line.Title),
				Format:    strings.TrimSpace(line.Format),
				UnitPrice: price.Round(2),
				Quantity:  line.Quantity,
			})
		}
		out[customerID] = items
	}
	return out, nil
}

// Seed puts every cart into the store and reports how many were written.
func (s *MemoryStore) Seed(ctx context.Context, carts map[string][]domain.CartItem) (int, error) {
	n := 0
	for customerID, items := range carts {
		if err := s.Put(ctx, customerID, items); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
