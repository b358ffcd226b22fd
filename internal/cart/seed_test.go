package cart

import (
	"context"
	"errors"
	"testing"
)

const seedYAML = `
carts:
  cust-1:
    - book_id: b1
      title: Rayuela
      format: Tapa dura
      price: "10"
      quantity: 2
    - book_id: b1
      title: Rayuela
      format: eBook
      price: "5.00"
      quantity: 1
`

func TestLoadSeedFillsMemoryStore(t *testing.T) {
	carts, err := LoadSeed([]byte(seedYAML))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	store := NewMemoryStore()
	n, err := store.Seed(context.Background(), carts)
	if err != nil || n != 1 {
		t.Fatalf("Seed: n=%d err=%v", n, err)
	}

	snap, err := store.Snapshot(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Items) != 2 || snap.Items[0].Quantity != 2 || snap.Items[1].UnitPrice.StringFixed(2) != "5.00" {
		t.Fatalf("unexpected seeded cart %+v", snap.Items)
	}
}

func TestLoadSeedRejectsBadLines(t *testing.T) {
	cases := map[string]string{
		"price":    "carts:\n  cust-1:\n    - book_id: b1\n      price: abc\n      quantity: 1\n",
		"quantity": "carts:\n  cust-1:\n    - book_id: b1\n      price: \"1\"\n      quantity: 0\n",
		"book":     "carts:\n  cust-1:\n    - price: \"1\"\n      quantity: 1\n",
		"yaml":     "carts: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadSeed([]byte(doc)); !errors.Is(err, ErrInvalidSeed) {
				t.Fatalf("expected ErrInvalidSeed, got %v", err)
			}
		})
	}
}
