package checkout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kbook/checkout/internal/card"
	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/reconcile"
)

// User-facing messages. The storefront is Spanish-only.
const (
	msgRequired      = "Este campo es obligatorio"
	msgCardNumber    = "Número de tarjeta no válido"
	msgExpiry        = "Fecha de caducidad no válida (MM/AA)"
	msgCVCFormat     = "El CVC debe tener %d dígitos"
	msgStoredCard    = "La tarjeta guardada no es válida"
	paymentLabelBase = "Tarjeta •••• "

	// SubmissionFailedMessage is the single message shown after any submission error.
	SubmissionFailedMessage = "No se pudo completar el pedido. Inténtalo de nuevo."
)

// ValidationError carries per-field messages for a blocked forward transition.
type ValidationError struct {
	Step   State
	Fields domain.FieldErrors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("checkout: %s step has invalid fields [%s]", e.Step, strings.Join(keys, ", "))
}

func validateShipping(addr domain.Address) domain.FieldErrors {
	errs := domain.FieldErrors{}
	for _, field := range addr.Missing() {
		errs.Add(field, msgRequired)
	}
	return errs
}

func validatePayment(sel reconcile.Selection[domain.PaymentProfile, domain.PaymentOverride]) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if sel.Source == reconcile.SourceProfile {
		p := sel.Profile
		if strings.TrimSpace(p.CardHolderName) == "" {
			errs.Add(domain.FieldCardHolderName, msgRequired)
		}
		if last := strings.TrimSpace(p.Last4); len(last) != 4 || card.DigitsOnly(last) != last {
			errs.Add(domain.FieldLast4, msgStoredCard)
		}
		if !card.ValidExpiry(strings.TrimSpace(p.Expiry)) {
			errs.Add(domain.FieldExpiry, msgExpiry)
		}
		return errs
	}

	o := sel.Override
	if strings.TrimSpace(o.HolderName) == "" {
		errs.Add(domain.FieldHolderName, msgRequired)
	}
	number := card.DigitsOnly(o.CardNumber)
	switch {
	case number == "":
		errs.Add(domain.FieldCardNumber, msgRequired)
	case !card.ValidNumber(number):
		errs.Add(domain.FieldCardNumber, msgCardNumber)
	}
	switch {
	case o.Expiry == "":
		errs.Add(domain.FieldExpiry, msgRequired)
	case !card.ValidExpiry(o.Expiry):
		errs.Add(domain.FieldExpiry, msgExpiry)
	}
	brand := card.DetectBrand(number)
	switch cvc := card.DigitsOnly(o.CVC); {
	case cvc == "":
		errs.Add(domain.FieldCVC, msgRequired)
	case !card.ValidCVC(cvc, brand):
		errs.Add(domain.FieldCVC, fmt.Sprintf(msgCVCFormat, card.CVCLength(brand)))
	}
	return errs
}

// paymentLabel is the human label sent to the Order API. It never contains the full PAN.
func paymentLabel(sel reconcile.Selection[domain.PaymentProfile, domain.PaymentOverride]) string {
	if sel.Source == reconcile.SourceProfile {
		return paymentLabelBase + strings.TrimSpace(sel.Profile.Last4)
	}
	return paymentLabelBase + card.Last4(sel.Override.CardNumber)
}

func normaliseOverride(o domain.PaymentOverride) domain.PaymentOverride {
	return domain.PaymentOverride{
		HolderName: strings.TrimSpace(o.HolderName),
		CardNumber: card.NormaliseNumber(o.CardNumber),
		Expiry:     card.FormatExpiry(o.Expiry),
		CVC:        card.FormatCVC(o.CVC),
	}
}
