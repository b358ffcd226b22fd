package handlers

import (
	"time"

	"github.com/kbook/checkout/internal/checkout"
	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/pricing"
)

const dateLayout = "2006-01-02"

type addressPayload struct {
	FullName   string `json:"fullName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type cardPayload struct {
	HolderName string `json:"holderName"`
	CardNumber string `json:"cardNumber"`
	Expiry     string `json:"expiry"`
	CVC        string `json:"cvc"`
}

type shippingRequest struct {
	UseOverride *bool           `json:"useOverride"`
	Override    *addressPayload `json:"override"`
}

type paymentRequest struct {
	UseOverride *bool        `json:"useOverride"`
	Override    *cardPayload `json:"override"`
}

type shippingOptionRequest struct {
	Option string `json:"option"`
}

type shippingResponse struct {
	Source           string         `json:"source"`
	Editable         bool           `json:"editable"`
	HasUsableProfile bool           `json:"hasUsableProfile"`
	Values           addressPayload `json:"values"`
}

type paymentResponse struct {
	Source           string `json:"source"`
	Editable         bool   `json:"editable"`
	HasUsableProfile bool   `json:"hasUsableProfile"`
	HolderName       string `json:"holderName,omitempty"`
	MaskedNumber     string `json:"maskedNumber,omitempty"`
	Brand            string `json:"brand"`
	Expiry           string `json:"expiry,omitempty"`
	CVCLength        int    `json:"cvcLength"`
	CVCProvided      bool   `json:"cvcProvided"`
	Label            string `json:"label,omitempty"`
}

type optionResponse struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Extra   string `json:"extra"`
	MinDays int    `json:"minDays"`
	MaxDays int    `json:"maxDays"`
}

type itemResponse struct {
	BookID    string `json:"bookId"`
	Title     string `json:"title"`
	Format    string `json:"format"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

type quoteResponse struct {
	Subtotal string `json:"subtotal"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

type deliveryResponse struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Label string `json:"label"`
}

type completionResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submittedAt"`
}

type viewResponse struct {
	ID          string              `json:"id"`
	State       string              `json:"state"`
	Step        int                 `json:"step"`
	Shipping    shippingResponse    `json:"shipping"`
	Payment     paymentResponse     `json:"payment"`
	Option      optionResponse      `json:"shippingOption"`
	Options     []optionResponse    `json:"shippingOptions"`
	Items       []itemResponse      `json:"items"`
	Quote       quoteResponse       `json:"quote"`
	Delivery    deliveryResponse    `json:"delivery"`
	FieldErrors map[string]string   `json:"fieldErrors,omitempty"`
	LastError   string              `json:"lastError,omitempty"`
	Completion  *completionResponse `json:"completion,omitempty"`
}

func newViewResponse(v checkout.View) viewResponse {
	resp := viewResponse{
		ID:    v.ID,
		State: string(v.State),
		Step:  v.Step,
		Shipping: shippingResponse{
			Source:           string(v.Shipping.Source),
			Editable:         v.Shipping.Editable,
			HasUsableProfile: v.Shipping.HasUsableProfile,
			Values:           addressFromDomain(v.Shipping.Values),
		},
		Payment: paymentResponse{
			Source:           string(v.Payment.Source),
			Editable:         v.Payment.Editable,
			HasUsableProfile: v.Payment.HasUsableProfile,
			HolderName:       v.Payment.HolderName,
			MaskedNumber:     v.Payment.MaskedNumber,
			Brand:            string(v.Payment.Brand),
			Expiry:           v.Payment.Expiry,
			CVCLength:        v.Payment.CVCLength,
			CVCProvided:      v.Payment.CVCProvided,
			Label:            v.Payment.Label,
		},
		Option:      optionFromDomain(v.Option),
		Options:     make([]optionResponse, 0, len(v.Options)),
		Items:       make([]itemResponse, 0, len(v.Items)),
		Quote:       quoteFromPricing(v.Quote),
		Delivery:    deliveryFromWindow(v.Delivery),
		FieldErrors: v.FieldErrors,
		LastError:   v.LastError,
	}
	for _, opt := range v.Options {
		resp.Options = append(resp.Options, optionFromDomain(opt))
	}
	for _, item := range v.Items {
		resp.Items = append(resp.Items, itemResponse{
			BookID:    item.BookID,
			Title:     item.Title,
			Format:    item.Format,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Quantity:  item.Quantity,
		})
	}
	if v.Completion != nil {
		resp.Completion = &completionResponse{
			OrderID:     v.Completion.Order.ID,
			Status:      string(v.Completion.Order.Status),
			SubmittedAt: v.Completion.SubmittedAt.UTC().Format(time.RFC3339),
		}
	}
	return resp
}

func addressFromDomain(a domain.Address) addressPayload {
	return addressPayload{
		FullName:   a.FullName,
		Address:    a.Address,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func optionFromDomain(o domain.ShippingOption) optionResponse {
	return optionResponse{
		ID:      string(o.ID),
		Label:   o.Label,
		Extra:   o.Extra.StringFixed(2),
		MinDays: o.MinDays,
		MaxDays: o.MaxDays,
	}
}

func quoteFromPricing(q pricing.Quote) quoteResponse {
	return quoteResponse{
		Subtotal: q.Subtotal.StringFixed(2),
		Shipping: q.Shipping.StringFixed(2),
		Total:    q.Total.StringFixed(2),
	}
}

func deliveryFromWindow(w pricing.Window) deliveryResponse {
	resp := deliveryResponse{Label: w.String()}
	if !w.From.IsZero() {
		resp.From = w.From.Format(dateLayout)
		resp.To = w.To.Format(dateLayout)
	}
	return resp
}
