package checkout

import (
	"strings"

	"github.com/kbook/checkout/internal/card"
	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/pricing"
	"github.com/kbook/checkout/internal/reconcile"
)

// View is a read-only snapshot of a machine, safe to serialise. It never
// carries a full PAN or the CVC.
type View struct {
	ID          string
	State       State
	Step        int
	Shipping    ShippingView
	Payment     PaymentView
	Option      domain.ShippingOption
	Options     []domain.ShippingOption
	Items       []domain.CartItem
	Quote       pricing.Quote
	Delivery    pricing.Window
	FieldErrors domain.FieldErrors
	LastError   string
	Completion  *Completion
}

// ShippingView projects the shipping group.
type ShippingView struct {
	Source           reconcile.Source
	Editable         bool
	HasUsableProfile bool
	Values           domain.Address
}

// PaymentView projects the payment group with card data masked.
type PaymentView struct {
	Source           reconcile.Source
	Editable         bool
	HasUsableProfile bool
	HolderName       string
	MaskedNumber     string
	Brand            card.Brand
	Expiry           string
	CVCLength        int
	CVCProvided      bool
	Label            string
}

// Snapshot captures the current state for rendering.
func (m *Machine) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	shipSel := m.rec.Shipping.Selection()
	shipping := ShippingView{
		Source:           shipSel.Source,
		Editable:         shipSel.Editable,
		HasUsableProfile: shipSel.HasUsableProfile,
		Values:           m.rec.EffectiveAddress(),
	}

	paySel := m.rec.Payment.Selection()
	payment := PaymentView{
		Source:           paySel.Source,
		Editable:         paySel.Editable,
		HasUsableProfile: paySel.HasUsableProfile,
		Brand:            card.BrandUnknown,
		CVCLength:        card.CVCLength(card.BrandUnknown),
	}
	if paySel.Source == reconcile.SourceProfile {
		payment.HolderName = strings.TrimSpace(paySel.Profile.CardHolderName)
		payment.MaskedNumber = card.Mask(paySel.Profile.Last4)
		payment.Expiry = strings.TrimSpace(paySel.Profile.Expiry)
		payment.Label = paymentLabel(paySel)
	} else {
		o := paySel.Override
		brand := card.DetectBrand(o.CardNumber)
		payment.HolderName = o.HolderName
		payment.MaskedNumber = card.Mask(o.CardNumber)
		payment.Brand = brand
		payment.Expiry = o.Expiry
		payment.CVCLength = card.CVCLength(brand)
		payment.CVCProvided = o.CVC != ""
		if payment.MaskedNumber != "" {
			payment.Label = paymentLabel(paySel)
		}
	}

	view := View{
		ID:          m.id,
		State:       m.state,
		Step:        m.state.Step(),
		Shipping:    shipping,
		Payment:     payment,
		Option:      m.option,
		Options:     m.catalog.Options(),
		Items:       cloneItems(m.items),
		Quote:       pricing.QuoteCart(m.items, m.option),
		FieldErrors: m.fieldErrors.Clone(),
		LastError:   m.lastError,
	}

	at := m.submittedAt
	if at.IsZero() {
		at = m.now()
	}
	view.Delivery = pricing.DeliveryWindow(at, m.option)

	if m.completion != nil {
		c := cloneCompletion(*m.completion)
		view.Completion = &c
		view.Items = c.Items
		view.Quote = c.Quote
		view.Option = c.Option
		view.Delivery = pricing.DeliveryWindow(c.SubmittedAt, c.Option)
	}
	return view
}
