// Package card validates and formats payment card input.
//
// Every function is total: malformed input yields false, an empty string or
// BrandUnknown, never a panic. Callers may run them on each keystroke.
package card

import "strconv"

// Brand is the card network inferred from the PAN prefix.
type Brand string

const (
	BrandVisa       Brand = "VISA"
	BrandMastercard Brand = "MASTERCARD"
	BrandAmex       Brand = "AMEX"
	BrandUnknown    Brand = "UNKNOWN"
)

const (
	// MaxPANLength covers the longest PAN of the supported brands.
	MaxPANLength = 19
	// MinPANLength is the shortest PAN accepted for submission.
	MinPANLength = 12
)

// Luhn runs the mod-10 checksum over a digit string.
func Luhn(digits string) bool {
	if !isDigits(digits) {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidNumber reports whether digits has a plausible PAN length and passes Luhn.
func ValidNumber(digits string) bool {
	if len(digits) < MinPANLength || len(digits) > MaxPANLength {
		return false
	}
	return Luhn(digits)
}

// DetectBrand classifies a PAN by its leading digits.
func DetectBrand(digits string) Brand {
	if !isDigits(digits) {
		return BrandUnknown
	}
	switch {
	case digits[0] == '4':
		return BrandVisa
	case hasPrefixInRange(digits, 2, 34, 34), hasPrefixInRange(digits, 2, 37, 37):
		return BrandAmex
	case hasPrefixInRange(digits, 2, 51, 55), hasPrefixInRange(digits, 4, 2221, 2720):
		return BrandMastercard
	default:
		return BrandUnknown
	}
}

// CVCLength is the exact number of CVC digits the brand requires.
func CVCLength(brand Brand) int {
	if brand == BrandAmex {
		return 4
	}
	return 3
}

// ValidCVC checks the CVC length against the brand rule.
func ValidCVC(cvc string, brand Brand) bool {
	return isDigits(cvc) && len(cvc) == CVCLength(brand)
}

// ValidExpiry accepts exactly "MM/YY" with a month between 01 and 12.
// Dates in the past are accepted.
func ValidExpiry(text string) bool {
	if len(text) != 5 || text[2] != '/' {
		return false
	}
	month, year := text[:2], text[3:]
	if !isDigits(month) || !isDigits(year) {
		return false
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return false
	}
	return m >= 1 && m <= 12
}

func hasPrefixInRange(digits string, width, low, high int) bool {
	if len(digits) < width {
		return false
	}
	n, err := strconv.Atoi(digits[:width])
	if err != nil {
		return false
	}
	return n >= low && n <= high
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
