// ABOUTME: Input validation for public gateway requests
// ABOUTME: Normalizes owner identifiers and checks phone, code, and unit formats

package models

import (
	"strings"
)

// NormalizeOwner strips CPF/CNPJ punctuation and checks the digit count.
// Accepts 11 digits (individual) or 14 digits (company).
func NormalizeOwner(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '/' || r == ' ':
			// punctuation
		default:
			return "", ValidationErrorf("owner identifier contains invalid character %q", r)
		}
	}
	owner := b.String()
	if len(owner) != 11 && len(owner) != 14 {
		return "", ValidationErrorf("owner identifier must have 11 or 14 digits, got %d", len(owner))
	}
	return owner, nil
}

// ValidatePhone accepts the masked numbers the portal lists, e.g. "(11) *****-1234"
func ValidatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if len(phone) < 4 || len(phone) > 20 {
		return ValidationErrorf("phone must be between 4 and 20 characters")
	}
	for _, r := range phone {
		if (r >= '0' && r <= '9') || strings.ContainsRune(" ()+-*", r) {
			continue
		}
		return ValidationErrorf("phone contains invalid character %q", r)
	}
	return nil
}

// ValidateCode checks the SMS one-time code
func ValidateCode(code string) error {
	if len(code) < 4 || len(code) > 8 {
		return ValidationErrorf("code must be 4 to 8 digits")
	}
	if !allDigits(code) {
		return ValidationErrorf("code must contain only digits")
	}
	return nil
}

// ValidateUnit checks a consumption unit number
func ValidateUnit(unit string) error {
	if len(unit) == 0 || len(unit) > 20 || !allDigits(unit) {
		return ValidationErrorf("unit must be 1 to 20 digits")
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
