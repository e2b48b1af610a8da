package parse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var nonDigitRe = regexp.MustCompile(`\D`)

// NormalizePhone converts a free-form phone number to E.164. Ten digit
// numbers and eleven digit numbers starting with 1 are read as NANP; other
// input must carry an explicit "+" and 8 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	digits := nonDigitRe.ReplaceAllString(s, "")

	switch {
	case len(digits) == 10 && !strings.HasPrefix(s, "+"):
		return "+1" + digits, nil
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits, nil
	case strings.HasPrefix(s, "+") && len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits, nil
	}
	return "", fmt.Errorf("invalid phone number: %q", raw)
}

// PhoneKey derives a stable public reference from a phone number: the first
// 16 hex characters of the SHA-256 of its E.164 form.
func PhoneKey(raw string) (string, error) {
	phone, err := NormalizePhone(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])[:16], nil
}

var staffKeyRe = regexp.MustCompile(`^[0-9a-f]{16}$`)

// IsStaffKey reports whether s has the shape produced by PhoneKey.
func IsStaffKey(s string) bool {
	return staffKeyRe.MatchString(s)
}

// AvailabilityDate parses a YYYY-MM-DD date and returns it along with its
// long display form, e.g. "October 20, 2026".
func AvailabilityDate(raw string) (time.Time, string, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return d, d.Format("January 02, 2006"), nil
}
