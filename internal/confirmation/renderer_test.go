package confirmation

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/pricing"
)

var submittedAt = time.Date(2025, time.March, 7, 18, 30, 0, 0, time.UTC)

func paidOrder() domain.Order {
	return domain.Order{
		ID: "ord-42",
		Items: []domain.CartItem{
			{BookID: "b1", Title: "Rayuela", Format: "Tapa dura", UnitPrice: decimal.NewFromInt(10), Quantity: 2},
			{BookID: "b2", Title: "Ficciones", Format: "eBook", UnitPrice: decimal.NewFromInt(5), Quantity: 1},
		},
		ShippingAddress: domain.Address{
			FullName:   "Ana Pérez",
			Address:    "Calle Mayor 1",
			City:       "Madrid",
			PostalCode: "28013",
			Country:    "España",
		},
		PaymentMethod: "Tarjeta •••• 1111",
		Status:        domain.OrderStatusPaid,
	}
}

func TestRenderFastOrder(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	s := r.Render(Input{Order: paidOrder(), Option: domain.ShippingFast, SubmittedAt: submittedAt})

	assert.Equal(t, "ord-42", s.OrderID)
	assert.Equal(t, "Pagado", s.StatusLabel)
	require.Len(t, s.Lines, 2)
	assert.Equal(t, "20,00 €", s.Lines[0].Amount)
	assert.Equal(t, "25,00 €", s.Subtotal)
	assert.Equal(t, "Envío rápido", s.ShippingLabel)
	assert.Equal(t, "4,99 €", s.ShippingCost)
	assert.Equal(t, "29,99 €", s.Total)
	assert.Equal(t, "11/03/2025", s.Delivery)
	assert.Equal(t, []string{"Ana Pérez", "Calle Mayor 1", "28013 Madrid", "España"}, s.AddressLines)
	assert.Equal(t, "Tarjeta •••• 1111", s.PaymentMethod)
}

func TestRenderMissingOptionFallsBackToStandard(t *testing.T) {
	r, err := NewRenderer(pricing.DefaultCatalog())
	require.NoError(t, err)

	s := r.Render(Input{Order: paidOrder(), SubmittedAt: submittedAt})

	assert.Equal(t, domain.ShippingStandard, s.ShippingOption)
	assert.Equal(t, "Envío estándar", s.ShippingLabel)
	assert.Equal(t, "0,00 €", s.ShippingCost)
	assert.Equal(t, "14/03/2025 - 17/03/2025", s.Delivery)
}

func TestRenderMatchesReviewWindow(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)
	catalog := pricing.DefaultCatalog()

	for _, opt := range catalog.Options() {
		s := r.Render(Input{Order: paidOrder(), Option: opt.ID, SubmittedAt: submittedAt})
		assert.Equal(t, pricing.DeliveryWindow(submittedAt, opt).String(), s.Delivery, opt.ID)
	}
}

func TestRenderUsesFallbackItemsAndOrderTotal(t *testing.T) {
	r, err := NewRenderer(nil, WithClock(func() time.Time { return submittedAt }))
	require.NoError(t, err)
	order := paidOrder()
	items := order.Items
	order.Items = nil
	order.Status = ""
	order.TotalPrice = decimal.RequireFromString("31.50")

	s := r.Render(Input{Order: order, Option: domain.ShippingFast, Items: items})

	require.Len(t, s.Lines, 2)
	assert.Equal(t, domain.OrderStatusPaid, s.Status)
	assert.Equal(t, "31,50 €", s.Total)
	assert.Equal(t, "11/03/2025", s.Delivery)
}

func TestWithLocale(t *testing.T) {
	r, err := NewRenderer(nil, WithLocale("en_US"))
	require.NoError(t, err)
	assert.Equal(t, "29.99 €", r.Amount(decimal.RequireFromString("29.99")))

	_, err = NewRenderer(nil, WithLocale("not a locale!"))
	assert.ErrorIs(t, err, errInvalidLocale)
}

func TestMarkdownAndHTML(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)
	order := paidOrder()
	order.Items[0].Title = "Cien años | <script>alert(1)</script>"

	s := r.Render(Input{Order: order, Option: domain.ShippingFast, SubmittedAt: submittedAt})

	md := r.Markdown(s)
	assert.Contains(t, md, "# Pedido confirmado")
	assert.Contains(t, md, `Cien años \| \<script\>alert(1)\</script\>`)
	assert.Contains(t, md, "**Total: 29,99 €**")
	assert.Contains(t, md, "Entrega estimada: 11/03/2025")

	html, err := r.HTML(s)
	require.NoError(t, err)
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<h1>Pedido confirmado</h1>")
	assert.NotContains(t, strings.ToLower(html), "<script>")
	assert.Contains(t, html, "Tarjeta •••• 1111")
}
