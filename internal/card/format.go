package card

import (
	"strconv"
	"strings"
)

const maxCVCLength = 4

// DigitsOnly strips everything that is not an ASCII digit.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// NormaliseNumber returns the digit-only PAN truncated to MaxPANLength.
func NormaliseNumber(s string) string {
	return truncate(DigitsOnly(s), MaxPANLength)
}

// FormatCardNumber groups the PAN in blocks of four separated by single spaces.
func FormatCardNumber(s string) string {
	digits := NormaliseNumber(s)
	if digits == "" {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(digits); i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(digits[i])
	}
	return b.String()
}

// FormatExpiry shapes partial input into "MM/YY" as it is typed.
//
// A lone leading digit above 1 becomes a zero-padded month and the month is
// clamped to 01..12. Input like "5/28" keeps the typed month boundary.
func FormatExpiry(s string) string {
	var digits string
	if month, year, ok := strings.Cut(s, "/"); ok {
		m := DigitsOnly(month)
		if len(m) == 1 {
			m = "0" + m
		}
		digits = m + DigitsOnly(year)
	} else {
		digits = DigitsOnly(s)
	}
	digits = truncate(digits, 4)

	switch len(digits) {
	case 0:
		return ""
	case 1:
		if digits[0] > '1' {
			return "0" + digits
		}
		return digits
	}

	month := clampMonth(digits[:2])
	year := digits[2:]
	if year == "" {
		return month
	}
	return month + "/" + year
}

// FormatCVC keeps at most four digits.
func FormatCVC(s string) string {
	return truncate(DigitsOnly(s), maxCVCLength)
}

// Last4 returns the final four digits of a PAN, or "" when it is shorter.
func Last4(s string) string {
	digits := DigitsOnly(s)
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}

// Mask renders a PAN as "•••• 1234" for display.
func Mask(s string) string {
	last := Last4(s)
	if last == "" {
		return ""
	}
	return "•••• " + last
}

func clampMonth(month string) string {
	m, err := strconv.Atoi(month)
	if err != nil {
		return "01"
	}
	switch {
	case m < 1:
		return "01"
	case m > 12:
		return "12"
	default:
		return month
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
