package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbook/checkout/internal/domain"
)

func TestDefaultCatalogHasStandardAndFast(t *testing.T) {
	c := DefaultCatalog()
	opts := c.Options()
	require.Len(t, opts, 2)

	standard, ok := c.Lookup(domain.ShippingStandard)
	require.True(t, ok)
	assert.True(t, standard.Extra.IsZero())
	assert.Equal(t, 5, standard.MinDays)
	assert.Equal(t, 6, standard.MaxDays)

	fast, ok := c.Lookup("FAST")
	require.True(t, ok)
	assert.Equal(t, "4.99", fast.Extra.StringFixed(2))
	assert.Equal(t, 2, fast.MinDays)
	assert.Equal(t, 2, fast.MaxDays)

	assert.Equal(t, domain.ShippingStandard, c.Default().ID)
	assert.Equal(t, domain.ShippingStandard, c.Resolve("overnight").ID)
	assert.Equal(t, domain.ShippingStandard, c.Resolve("").ID)
}

func TestLoadCatalogRejectsInvalidDocuments(t *testing.T) {
	docs := map[string]string{
		"unknown option": "options:\n  - {id: standard, extra: \"0\", min_days: 5, max_days: 6}\n  - {id: drone, extra: \"9\", min_days: 1, max_days: 1}\n",
		"missing fast":   "options:\n  - {id: standard, extra: \"0\", min_days: 5, max_days: 6}\n",
		"negative extra": "options:\n  - {id: standard, extra: \"-1\", min_days: 5, max_days: 6}\n  - {id: fast, extra: \"4.99\", min_days: 2, max_days: 2}\n",
		"bad window":     "options:\n  - {id: standard, extra: \"0\", min_days: 6, max_days: 5}\n  - {id: fast, extra: \"4.99\", min_days: 2, max_days: 2}\n",
		"duplicate":      "options:\n  - {id: fast, extra: \"0\", min_days: 5, max_days: 6}\n  - {id: fast, extra: \"4.99\", min_days: 2, max_days: 2}\n",
		"not yaml":       "options: [",
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCatalog))
		})
	}
}

func TestQuoteCartWithFastShipping(t *testing.T) {
	fast, _ := DefaultCatalog().Lookup(domain.ShippingFast)
	items := []domain.CartItem{
		{BookID: "b1", UnitPrice: decimal.NewFromInt(10), Quantity: 2},
		{BookID: "b2", UnitPrice: decimal.NewFromInt(5), Quantity: 1},
	}

	q := QuoteCart(items, fast)

	assert.Equal(t, "25.00", q.Subtotal.StringFixed(2))
	assert.Equal(t, "4.99", q.Shipping.StringFixed(2))
	assert.Equal(t, "29.99", q.Total.StringFixed(2))
}

func TestQuoteCartStandardAndIgnoredLines(t *testing.T) {
	standard := DefaultCatalog().Default()
	items := []domain.CartItem{
		{UnitPrice: decimal.RequireFromString("12.50"), Quantity: 3},
		{UnitPrice: decimal.RequireFromString("99"), Quantity: 0},
		{UnitPrice: decimal.RequireFromString("99"), Quantity: -2},
	}

	q := QuoteCart(items, standard)

	assert.Equal(t, "37.50", q.Subtotal.StringFixed(2))
	assert.True(t, q.Shipping.IsZero())
	assert.True(t, q.Total.Equal(q.Subtotal))
}

func TestAddBusinessDaysSkipsWeekends(t *testing.T) {
	friday := time.Date(2025, time.March, 7, 18, 30, 0, 0, time.UTC)
	saturday := friday.AddDate(0, 0, 1)

	cases := []struct {
		start time.Time
		n     int
		want  string
	}{
		{friday, 0, "07/03/2025"},
		{friday, 1, "10/03/2025"},
		{friday, 2, "11/03/2025"},
		{friday, 5, "14/03/2025"},
		{friday, 6, "17/03/2025"},
		{saturday, 1, "10/03/2025"},
		{saturday, 2, "11/03/2025"},
	}
	for _, tc := range cases {
		got := AddBusinessDays(tc.start, tc.n).Format(dateLayout)
		assert.Equal(t, tc.want, got, "start=%s n=%d", tc.start.Weekday(), tc.n)
	}
}

func TestDeliveryWindowStrings(t *testing.T) {
	c := DefaultCatalog()
	now := time.Date(2025, time.March, 7, 9, 0, 0, 0, time.UTC)

	fast, _ := c.Lookup(domain.ShippingFast)
	assert.Equal(t, "11/03/2025", DeliveryWindow(now, fast).String())
	assert.Equal(t, "14/03/2025 - 17/03/2025", DeliveryWindow(now, c.Default()).String())
	assert.Equal(t, "", Window{}.String())
}

func TestDeliveryWindowDeterministic(t *testing.T) {
	c := DefaultCatalog()
	now := time.Date(2025, time.December, 31, 23, 59, 0, 0, time.UTC)
	for _, opt := range c.Options() {
		first := DeliveryWindow(now, opt).String()
		second := DeliveryWindow(now, opt).String()
		assert.Equal(t, first, second)
	}
}
