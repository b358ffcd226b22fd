// Package pricing computes cart totals and delivery windows for the shipping tiers.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kbook/checkout/internal/domain"
)

const dateLayout = "02/01/2006"

// Quote is the priced cart for a given shipping tier.
type Quote struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// QuoteCart sums unit price times quantity and adds the tier surcharge.
// Lines with a non-positive quantity are ignored.
func QuoteCart(items []domain.CartItem, option domain.ShippingOption) Quote {
	subtotal := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	subtotal = subtotal.Round(2)
	shipping := option.Extra.Round(2)
	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    subtotal.Add(shipping),
	}
}

// Window is the inclusive range of expected delivery dates.
type Window struct {
	From time.Time
	To   time.Time
}

// String renders "dd/mm/yyyy" or "dd/mm/yyyy - dd/mm/yyyy".
func (w Window) String() string {
	if w.From.IsZero() {
		return ""
	}
	from := w.From.Format(dateLayout)
	to := w.To.Format(dateLayout)
	if from == to {
		return from
	}
	return from + " - " + to
}

// DeliveryWindow derives the delivery range for option starting from the calendar day of now.
// Holidays are not taken into account.
func DeliveryWindow(now time.Time, option domain.ShippingOption) Window {
	return Window{
		From: AddBusinessDays(now, option.MinDays),
		To:   AddBusinessDays(now, option.MaxDays),
	}
}

// AddBusinessDays moves n weekdays forward from the calendar day of start, skipping Saturdays and Sundays.
func AddBusinessDays(start time.Time, n int) time.Time {
	y, m, d := start.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, start.Location())
	for added := 0; added < n; {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return day
}
