package domain

import (
	"fmt"
	"regexp"
)

// e164Pattern matches E.164 phone numbers: + followed by up to 15 digits,
// no leading zero after the plus.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// emailPattern is a deliberately loose shape check: one @, no whitespace,
// a dot in the domain part. Real validation happens at the directory.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// PhoneNumber is a value object representing a phone number in E.164 format.
// Always valid in memory — use NewPhoneNumber to construct.
type PhoneNumber struct {
	value string
}

// NewPhoneNumber creates a PhoneNumber from a raw string, validating E.164 format.
func NewPhoneNumber(raw string) (PhoneNumber, error) {
	if raw == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty: %w", ErrInvalidPhoneNumber)
	}
	if !e164Pattern.MatchString(raw) {
		return PhoneNumber{}, fmt.Errorf("phone number %q is not valid E.164: %w", raw, ErrInvalidPhoneNumber)
	}
	return PhoneNumber{value: raw}, nil
}

// MustPhoneNumber creates a PhoneNumber, panicking on invalid input. Use only in tests.
func MustPhoneNumber(raw string) PhoneNumber {
	p, err := NewPhoneNumber(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p PhoneNumber) String() string { return p.value }
func (p PhoneNumber) IsZero() bool   { return p.value == "" }

// SyntheticEmail returns the placeholder address used for customers created
// through phone-only authentication.
func (p PhoneNumber) SyntheticEmail() string {
	return p.value + "@phone.local"
}

// EmailAddress is a value object for an email login identity.
type EmailAddress struct {
	value string
}

// NewEmailAddress validates the shape of an email address.
func NewEmailAddress(raw string) (EmailAddress, error) {
	if raw == "" {
		return EmailAddress{}, fmt.Errorf("email cannot be empty: %w", ErrInvalidEmail)
	}
	if !emailPattern.MatchString(raw) {
		return EmailAddress{}, fmt.Errorf("email %q is malformed: %w", raw, ErrInvalidEmail)
	}
	return EmailAddress{value: raw}, nil
}

func (e EmailAddress) String() string { return e.value }
func (e EmailAddress) IsZero() bool   { return e.value == "" }

// codePattern matches a six-digit OTP candidate.
var codePattern = regexp.MustCompile(`^\d{6}$`)

// ValidateCode checks that a candidate is exactly six ASCII digits.
func ValidateCode(candidate string) error {
	if !codePattern.MatchString(candidate) {
		return fmt.Errorf("candidate %q: %w", candidate, ErrInvalidCode)
	}
	return nil
}
