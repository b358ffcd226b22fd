package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals any other verification failure.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims are the JWT claims understood by the checkout service. The subject is the customer id.
type Claims struct {
	Email  string `json:"email,omitempty"`
	Locale string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

// HS256Verifier validates HMAC-SHA256 signed bearer tokens.
type HS256Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// VerifierOption customises an HS256Verifier.
type VerifierOption func(*HS256Verifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) VerifierOption {
	return func(v *HS256Verifier) { v.issuer = strings.TrimSpace(issuer) }
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) VerifierOption {
	return func(v *HS256Verifier) { v.audience = strings.TrimSpace(audience) }
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *HS256Verifier) {
		if d > 0 {
			v.leeway = d
		}
	}
}

// WithVerifierClock overrides the clock used for expiry checks.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *HS256Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewHS256Verifier constructs a verifier for the shared secret.
func NewHS256Verifier(secret string, opts ...VerifierOption) (*HS256Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	v := &HS256Verifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify parses raw and returns the identity it carries.
func (v *HS256Verifier) Verify(_ context.Context, raw string) (*Identity, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	now := v.now()
	if !claims.VerifyExpiresAt(now.Add(-v.leeway), false) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now.Add(v.leeway), false) {
		return nil, fmt.Errorf("%w: token not valid yet", ErrTokenInvalid)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: unexpected audience", ErrTokenInvalid)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return &Identity{
		CustomerID: subject,
		Email:      strings.TrimSpace(claims.Email),
		Locale:     strings.TrimSpace(claims.Locale),
		token:      raw,
	}, nil
}

// SignHS256 issues a token for claims. Used by local tooling and tests.
func SignHS256(secret string, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
