package observability

import (
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	routeLimit         = 180
	methodLimit        = 10
	customerIDLimit    = 64
)

// sanitizeString drops control characters and keeps at most limit runes, so
// request data cannot forge extra log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// SanitizeRoute cleans a route pattern for logs and span attributes. Empty becomes "/".
func SanitizeRoute(route string) string {
	if cleaned := sanitizeString(route, routeLimit); cleaned != "" {
		return cleaned
	}
	return "/"
}

// SanitizeMethod cleans an HTTP method for logs.
func SanitizeMethod(method string) string {
	return sanitizeString(method, methodLimit)
}

// SanitizeCustomerID cleans a customer id for logs.
func SanitizeCustomerID(id string) string {
	return sanitizeString(id, customerIDLimit)
}
