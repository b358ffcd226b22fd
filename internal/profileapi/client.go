// Package profileapi reads the shipping and payment projections of a customer record.
package profileapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/platform/auth"
)

const (
	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 256 << 10
)

var tracer = otel.Tracer("github.com/kbook/checkout/internal/profileapi")

var (
	// ErrNotConfigured is returned when no base URL was provided.
	ErrNotConfigured = errors.New("profileapi: base url not configured")
	// ErrMissingCustomer is returned for a blank customer id.
	ErrMissingCustomer = errors.New("profileapi: missing customer id")
)

// Client fetches customer profiles over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// NewClient constructs a Profile API client.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Fetch loads the profile for customerID. A 404 means the customer has no stored data.
func (c *Client) Fetch(ctx context.Context, customerID string) (domain.CustomerProfile, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CustomerProfile{}, ErrMissingCustomer
	}
	if c == nil || c.baseURL == "" {
		return domain.CustomerProfile{}, ErrNotConfigured
	}

	ctx, span := tracer.Start(ctx, "profileapi.fetch")
	defer span.End()

	endpoint, err := url.JoinPath(c.baseURL, "customers", customerID, "profile")
	if err != nil {
		return domain.CustomerProfile{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.CustomerProfile{}, err
	}
	req.Header.Set("Accept", "application/json")
	if token := auth.BearerToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return domain.CustomerProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.CustomerProfile{}, nil
	}
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("profileapi: status %d: %s", resp.StatusCode, drainError(resp.Body))
		span.SetStatus(codes.Error, "unexpected status")
		return domain.CustomerProfile{}, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.CustomerProfile{}, err
	}
	return Decode(raw)
}

// Decode projects a profile document in either flat or nested layout.
func Decode(raw []byte) (domain.CustomerProfile, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return domain.CustomerProfile{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return domain.CustomerProfile{}, fmt.Errorf("profileapi: decode profile: %w", err)
	}
	return project(unwrap(doc)), nil
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
