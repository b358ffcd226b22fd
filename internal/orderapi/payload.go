package orderapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kbook/checkout/internal/domain"
)

type addressPayload struct {
	FullName   string `json:"fullName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type createOrderPayload struct {
	ShippingAddress addressPayload `json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
}

type itemPayload struct {
	Book      json.RawMessage     `json:"book"`
	BookID    string              `json:"bookId"`
	Title     string              `json:"title"`
	Format    string              `json:"format"`
	Price     decimal.NullDecimal `json:"price"`
	UnitPrice decimal.NullDecimal `json:"unitPrice"`
	Quantity  int                 `json:"quantity"`
}

type bookRef struct {
	ID      string `json:"id"`
	MongoID string `json:"_id"`
	Title   string `json:"title"`
}

type orderPayload struct {
	ID              string              `json:"id"`
	MongoID         string              `json:"_id"`
	Items           []itemPayload       `json:"items"`
	ShippingAddress addressPayload      `json:"shippingAddress"`
	PaymentMethod   string              `json:"paymentMethod"`
	TotalPrice      decimal.NullDecimal `json:"totalPrice"`
	Status          string              `json:"status"`
	CreatedAt       string              `json:"createdAt"`
}

type orderEnvelope struct {
	orderPayload
	Order *orderPayload `json:"order"`
	Data  *orderPayload `json:"data"`
}

func fromAddress(a domain.Address) addressPayload {
	a = a.Normalised()
	return addressPayload{
		FullName:   a.FullName,
		Address:    a.Address,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		FullName:   a.FullName,
		Address:    a.Address,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}.Normalised()
}

// decodeOrder accepts a bare order, {"order": ...} or {"data": ...}.
func decodeOrder(raw []byte) (domain.Order, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return domain.Order{}, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	var env orderEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	payload := env.orderPayload
	switch {
	case env.Order != nil:
		payload = *env.Order
	case env.Data != nil:
		payload = *env.Data
	}
	return payload.toDomain(), nil
}

func (p orderPayload) toDomain() domain.Order {
	order := domain.Order{
		ID:              firstNonEmpty(p.ID, p.MongoID),
		ShippingAddress: p.ShippingAddress.toDomain(),
		PaymentMethod:   strings.TrimSpace(p.PaymentMethod),
		Status:          domain.OrderStatus(strings.ToLower(strings.TrimSpace(p.Status))),
		CreatedAt:       parseTime(p.CreatedAt),
	}
	if p.TotalPrice.Valid {
		order.TotalPrice = p.TotalPrice.Decimal
	}
	for _, item := range p.Items {
		order.Items = append(order.Items, item.toDomain())
	}
	return order
}

func (i itemPayload) toDomain() domain.CartItem {
	out := domain.CartItem{
		BookID:   strings.TrimSpace(i.BookID),
		Title:    strings.TrimSpace(i.Title),
		Format:   strings.TrimSpace(i.Format),
		Quantity: i.Quantity,
	}
	switch {
	case i.UnitPrice.Valid:
		out.UnitPrice = i.UnitPrice.Decimal
	case i.Price.Valid:
		out.UnitPrice = i.Price.Decimal
	}

	book := bytes.TrimSpace(i.Book)
	if len(book) == 0 || bytes.Equal(book, []byte("null")) {
		return out
	}
	var id string
	if err := json.Unmarshal(book, &id); err == nil {
		out.BookID = firstNonEmpty(out.BookID, id)
		return out
	}
	var ref bookRef
	if err := json.Unmarshal(book, &ref); err == nil {
		out.BookID = firstNonEmpty(out.BookID, ref.ID, ref.MongoID)
		out.Title = firstNonEmpty(out.Title, ref.Title)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseTime(val string) time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z"} {
		if ts, err := time.Parse(layout, val); err == nil {
			return ts
		}
	}
	return time.Time{}
}
