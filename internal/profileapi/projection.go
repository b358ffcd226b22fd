package profileapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kbook/checkout/internal/card"
	"github.com/kbook/checkout/internal/domain"
)

type document = map[string]any

var (
	envelopeKeys = []string{"data", "profile", "customer", "user"}
	shippingKeys = []string{"shipping", "shippingAddress", "shipping_address", "address"}
	paymentKeys  = []string{"payment", "paymentMethod", "payment_method", "card"}

	fullNameKeys   = []string{"fullName", "full_name", "name"}
	addressKeys    = []string{"address", "street", "addressLine1", "line1"}
	cityKeys       = []string{"city", "town"}
	postalCodeKeys = []string{"postalCode", "postal_code", "zip", "zipCode"}
	countryKeys    = []string{"country"}

	holderKeys       = []string{"cardHolderName", "holderName", "cardholderName", "card_holder_name"}
	nestedHolderKeys = append(append([]string{}, holderKeys...), "name")
	last4Keys        = []string{"last4", "cardLast4", "last_4", "lastFour"}
	expiryKeys       = []string{"expiry", "expiration", "exp"}
	expMonthKeys     = []string{"expMonth", "exp_month"}
	expYearKeys      = []string{"expYear", "exp_year"}
)

// unwrap descends through single envelope objects such as {"data": {...}}.
func unwrap(doc document) document {
	for depth := 0; depth < 3; depth++ {
		next, ok := firstObject(doc, envelopeKeys)
		if !ok {
			break
		}
		doc = next
	}
	return doc
}

func project(doc document) domain.CustomerProfile {
	var profile domain.CustomerProfile

	shipSource := doc
	if nested, ok := firstObject(doc, shippingKeys); ok {
		shipSource = nested
	}
	addr := domain.Address{
		FullName:   lookup(shipSource, fullNameKeys),
		Address:    lookup(shipSource, addressKeys),
		City:       lookup(shipSource, cityKeys),
		PostalCode: lookup(shipSource, postalCodeKeys),
		Country:    lookup(shipSource, countryKeys),
	}
	if addr.FullName == "" {
		addr.FullName = lookup(doc, fullNameKeys)
	}
	if !addr.IsZero() {
		profile.Shipping = &addr
	}

	paySource, holder := doc, holderKeys
	if nested, ok := firstObject(doc, paymentKeys); ok {
		paySource, holder = nested, nestedHolderKeys
		if inner, ok := firstObject(nested, []string{"card"}); ok {
			paySource = merge(nested, inner)
		}
	}
	payment := domain.PaymentProfile{
		CardHolderName: lookup(paySource, holder),
		Last4:          last4(lookup(paySource, last4Keys)),
		Expiry:         expiry(paySource),
	}
	if payment.CardHolderName == "" {
		payment.CardHolderName = lookup(doc, holderKeys)
	}
	if payment.CardHolderName != "" || payment.Last4 != "" || payment.Expiry != "" {
		profile.Payment = &payment
	}
	return profile
}

func firstObject(doc document, keys []string) (document, bool) {
	for _, key := range keys {
		if obj, ok := doc[key].(map[string]any); ok {
			return obj, true
		}
	}
	return nil, false
}

// lookup returns the first non-blank scalar under keys.
func lookup(doc document, keys []string) string {
	for _, key := range keys {
		if v := scalar(doc[key]); v != "" {
			return v
		}
	}
	return ""
}

func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

func merge(outer, inner document) document {
	out := make(document, len(outer)+len(inner))
	for k, v := range outer {
		out[k] = v
	}
	for k, v := range inner {
		out[k] = v
	}
	return out
}

func last4(v string) string {
	digits := card.DigitsOnly(v)
	if len(digits) > 4 {
		return digits[len(digits)-4:]
	}
	return digits
}

func expiry(doc document) string {
	if v := lookup(doc, expiryKeys); v != "" {
		return card.FormatExpiry(v)
	}
	month := card.DigitsOnly(lookup(doc, expMonthKeys))
	year := card.DigitsOnly(lookup(doc, expYearKeys))
	if month == "" || year == "" {
		return ""
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return ""
	}
	if len(year) > 2 {
		year = year[len(year)-2:]
	}
	if len(year) == 1 {
		year = "0" + year
	}
	return fmt.Sprintf("%02d/%s", m, year)
}
