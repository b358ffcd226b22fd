package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Address describes a delivery destination. Every field is required.
type Address struct {
	FullName   string
	Address    string
	City       string
	PostalCode string
	Country    string
}

// Address field keys used in validation maps and API payloads.
const (
	FieldFullName   = "fullName"
	FieldAddress    = "address"
	FieldCity       = "city"
	FieldPostalCode = "postalCode"
	FieldCountry    = "country"
)

// Normalised returns a copy with surrounding whitespace removed from each field.
func (a Address) Normalised() Address {
	return Address{
		FullName:   strings.TrimSpace(a.FullName),
		Address:    strings.TrimSpace(a.Address),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
}

// Missing lists the keys of blank fields in display order.
func (a Address) Missing() []string {
	n := a.Normalised()
	var missing []string
	for _, f := range []struct {
		key   string
		value string
	}{
		{FieldFullName, n.FullName},
		{FieldAddress, n.Address},
		{FieldCity, n.City},
		{FieldPostalCode, n.PostalCode},
		{FieldCountry, n.Country},
	} {
		if f.value == "" {
			missing = append(missing, f.key)
		}
	}
	return missing
}

// Complete reports whether all required fields are present.
func (a Address) Complete() bool {
	return len(a.Missing()) == 0
}

// IsZero reports whether every field is blank.
func (a Address) IsZero() bool {
	return len(a.Missing()) == 5
}

// PaymentProfile is the masked card stored on the customer record.
type PaymentProfile struct {
	CardHolderName string
	Last4          string
	Expiry         string
}

// Complete reports whether all profile fields are non-empty.
func (p PaymentProfile) Complete() bool {
	return strings.TrimSpace(p.CardHolderName) != "" &&
		strings.TrimSpace(p.Last4) != "" &&
		strings.TrimSpace(p.Expiry) != ""
}

// PaymentOverride holds card details typed during one checkout attempt.
// It lives in memory only and must never be logged or persisted.
type PaymentOverride struct {
	HolderName string
	CardNumber string
	Expiry     string
	CVC        string
}

// IsZero reports whether nothing has been entered.
func (p PaymentOverride) IsZero() bool {
	return strings.TrimSpace(p.HolderName) == "" &&
		p.CardNumber == "" &&
		p.Expiry == "" &&
		p.CVC == ""
}

// String masks card data so accidental formatting never leaks it.
func (p PaymentOverride) String() string {
	return "PaymentOverride{redacted}"
}

// GoString masks card data for %#v.
func (p PaymentOverride) GoString() string {
	return p.String()
}

// Payment field keys used in validation maps.
const (
	FieldHolderName     = "holderName"
	FieldCardNumber     = "cardNumber"
	FieldExpiry         = "expiry"
	FieldCVC            = "cvc"
	FieldCardHolderName = "cardHolderName"
	FieldLast4          = "last4"
)

// CustomerProfile is the projection of the customer record used by checkout.
// Either part may be nil when the record has no usable data.
type CustomerProfile struct {
	Shipping *Address
	Payment  *PaymentProfile
}

// ShippingOptionID identifies a delivery tier.
type ShippingOptionID string

const (
	// ShippingStandard is the default tier without surcharge.
	ShippingStandard ShippingOptionID = "standard"
	// ShippingFast is the express tier.
	ShippingFast ShippingOptionID = "fast"
)

// ShippingOption describes a delivery tier and its business-day window.
type ShippingOption struct {
	ID      ShippingOptionID
	Label   string
	Extra   decimal.Decimal
	MinDays int
	MaxDays int
}

// CartItem is one line of the customer's cart.
type CartItem struct {
	BookID    string
	Title     string
	Format    string
	UnitPrice decimal.Decimal
	Quantity  int
}

// CartSnapshot is the ordered cart content at a point in time.
type CartSnapshot struct {
	CustomerID string
	Items      []CartItem
}

// Empty reports whether the snapshot has no purchasable lines.
func (c CartSnapshot) Empty() bool {
	for _, item := range c.Items {
		if item.Quantity > 0 {
			return false
		}
	}
	return true
}

// OrderStatus mirrors the server-side order lifecycle.
type OrderStatus string

const (
	// OrderStatusPending is the status right after creation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid is the status after payment confirmation.
	OrderStatusPaid OrderStatus = "paid"
)

// Order is owned by the Order API. Checkout only reads it.
type Order struct {
	ID              string
	Items           []CartItem
	ShippingAddress Address
	PaymentMethod   string
	TotalPrice      decimal.Decimal
	Status          OrderStatus
	CreatedAt       time.Time
}

// CreateOrderRequest is the payload sent to the Order API to open an order.
// IdempotencyKey travels as a header; an empty key gets a random one.
type CreateOrderRequest struct {
	ShippingAddress Address
	PaymentMethod   string
	IdempotencyKey  string
}

// FieldErrors maps a field key to a user-facing message.
type FieldErrors map[string]string

// Add records a message for the field unless one is already present.
func (f FieldErrors) Add(field, message string) {
	if _, exists := f[field]; exists {
		return
	}
	f[field] = message
}

// Clone returns an independent copy.
func (f FieldErrors) Clone() FieldErrors {
	if len(f) == 0 {
		return nil
	}
	out := make(FieldErrors, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
