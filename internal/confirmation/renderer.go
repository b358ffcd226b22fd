// Package confirmation shapes a paid order into the summary shown after checkout.
package confirmation

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/pricing"
)

const defaultLocale = "es"

var errInvalidLocale = errors.New("confirmation: invalid locale")

var statusLabels = map[domain.OrderStatus]string{
	domain.OrderStatusPending: "Pendiente de pago",
	domain.OrderStatusPaid:    "Pagado",
}

// Input is everything the renderer needs. Option may be empty, in which case
// the standard tier is assumed. Items fill in when the order omits its lines.
type Input struct {
	Order       domain.Order
	Option      domain.ShippingOptionID
	Items       []domain.CartItem
	SubmittedAt time.Time
}

// Line is one rendered cart line.
type Line struct {
	Title     string `json:"title"`
	Format    string `json:"format"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Amount    string `json:"amount"`
}

// Summary is the human-facing confirmation. Amounts are already formatted for the locale.
type Summary struct {
	OrderID        string                  `json:"orderId"`
	Status         domain.OrderStatus      `json:"status"`
	StatusLabel    string                  `json:"statusLabel"`
	Lines          []Line                  `json:"lines"`
	Subtotal       string                  `json:"subtotal"`
	ShippingOption domain.ShippingOptionID `json:"shippingOption"`
	ShippingLabel  string                  `json:"shippingLabel"`
	ShippingCost   string                  `json:"shippingCost"`
	Total          string                  `json:"total"`
	AddressLines   []string                `json:"addressLines"`
	PaymentMethod  string                  `json:"paymentMethod"`
	Delivery       string                  `json:"delivery"`
	Window         pricing.Window          `json:"-"`
}

// Option configures a Renderer.
type Option func(*Renderer) error

// WithLocale selects the BCP 47 locale used for amounts.
func WithLocale(tag string) Option {
	return func(r *Renderer) error {
		tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
		if tag == "" {
			return nil
		}
		parsed, err := language.Parse(tag)
		if err != nil {
			return errors.Join(errInvalidLocale, err)
		}
		r.printer = message.NewPrinter(parsed)
		return nil
	}
}

// WithClock overrides the time source used when neither the submission nor
// the order carries a timestamp.
func WithClock(clock func() time.Time) Option {
	return func(r *Renderer) error {
		if clock != nil {
			r.now = clock
		}
		return nil
	}
}

// Renderer turns completed orders into summaries.
type Renderer struct {
	catalog *pricing.Catalog
	printer *message.Printer
	now     func() time.Time
	md      goldmark.Markdown
	policy  *bluemonday.Policy
}

// NewRenderer builds a renderer over the shipping catalog.
func NewRenderer(catalog *pricing.Catalog, opts ...Option) (*Renderer, error) {
	if catalog == nil {
		catalog = pricing.DefaultCatalog()
	}
	r := &Renderer{
		catalog: catalog,
		printer: message.NewPrinter(language.MustParse(defaultLocale)),
		now:     time.Now,
		md:      goldmark.New(goldmark.WithExtensions(extension.Table)),
		policy:  bluemonday.UGCPolicy(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Render builds the summary. The delivery window is re-derived from the
// submission instant so it matches what the review step showed.
func (r *Renderer) Render(in Input) Summary {
	option := r.catalog.Resolve(in.Option)

	items := in.Order.Items
	if len(items) == 0 {
		items = in.Items
	}
	quote := pricing.QuoteCart(items, option)
	total := quote.Total
	if !in.Order.TotalPrice.IsZero() {
		total = in.Order.TotalPrice
	}

	at := in.SubmittedAt
	if at.IsZero() {
		at = in.Order.CreatedAt
	}
	if at.IsZero() {
		at = r.now()
	}
	window := pricing.DeliveryWindow(at, option)

	lines := make([]Line, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		lines = append(lines, Line{
			Title:     item.Title,
			Format:    item.Format,
			Quantity:  item.Quantity,
			UnitPrice: r.Amount(item.UnitPrice),
			Amount:    r.Amount(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}

	status := in.Order.Status
	if status == "" {
		status = domain.OrderStatusPaid
	}

	return Summary{
		OrderID:        in.Order.ID,
		Status:         status,
		StatusLabel:    statusLabel(status),
		Lines:          lines,
		Subtotal:       r.Amount(quote.Subtotal),
		ShippingOption: option.ID,
		ShippingLabel:  option.Label,
		ShippingCost:   r.Amount(quote.Shipping),
		Total:          r.Amount(total),
		AddressLines:   addressLines(in.Order.ShippingAddress),
		PaymentMethod:  in.Order.PaymentMethod,
		Delivery:       window.String(),
		Window:         window,
	}
}

// Amount formats a money value with two decimals and the euro sign.
func (r *Renderer) Amount(d decimal.Decimal) string {
	return r.printer.Sprintf("%.2f €", d.Round(2).InexactFloat64())
}

// Markdown renders the summary as a Markdown document.
func (r *Renderer) Markdown(s Summary) string {
	var b strings.Builder
	b.WriteString("# Pedido confirmado\n\n")
	fmt.Fprintf(&b, "**Pedido:** %s  \n", escape(s.OrderID))
	fmt.Fprintf(&b, "**Estado:** %s\n\n", escape(s.StatusLabel))

	if len(s.Lines) > 0 {
		b.WriteString("| Libro | Formato | Cantidad | Importe |\n")
		b.WriteString("|---|---|---:|---:|\n")
		for _, line := range s.Lines {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				escape(line.Title), escape(line.Format), strconv.Itoa(line.Quantity), line.Amount)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "- Subtotal: %s\n", s.Subtotal)
	fmt.Fprintf(&b, "- %s: %s\n", escape(s.ShippingLabel), s.ShippingCost)
	fmt.Fprintf(&b, "- **Total: %s**\n\n", s.Total)

	b.WriteString("## Envío\n\n")
	for _, line := range s.AddressLines {
		fmt.Fprintf(&b, "%s  \n", escape(line))
	}
	fmt.Fprintf(&b, "Entrega estimada: %s\n\n", s.Delivery)

	b.WriteString("## Pago\n\n")
	fmt.Fprintf(&b, "%s\n", escape(s.PaymentMethod))
	return b.String()
}

// HTML renders the Markdown form to sanitised HTML.
func (r *Renderer) HTML(s Summary) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(r.Markdown(s)), &buf); err != nil {
		return "", fmt.Errorf("confirmation: render html: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

func statusLabel(status domain.OrderStatus) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return string(status)
}

func addressLines(a domain.Address) []string {
	a = a.Normalised()
	lines := make([]string, 0, 4)
	for _, line := range []string{a.FullName, a.Address, strings.TrimSpace(a.PostalCode + " " + a.City), a.Country} {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"#", `\#`,
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	">", `\>`,
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
