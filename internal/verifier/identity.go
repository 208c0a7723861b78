package verifier

import (
	"regexp"
	"strings"

	dErrors "kycgate/pkg/domain-errors"
)

// IdentityType is the kind of government identity number being verified.
type IdentityType string

const (
	TypeNIN IdentityType = "nin"
	TypeBVN IdentityType = "bvn"
	TypeCAC IdentityType = "cac"
)

// ParseIdentityType validates an identity type from untrusted input.
func ParseIdentityType(s string) (IdentityType, error) {
	t := IdentityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown identity type: %s", s)
	}
	return t, nil
}

func (t IdentityType) IsValid() bool {
	switch t {
	case TypeNIN, TypeBVN, TypeCAC:
		return true
	}
	return false
}

func (t IdentityType) String() string {
	return string(t)
}

var (
	elevenDigits = regexp.MustCompile(`^\d{11}$`)
	cacNumber    = regexp.MustCompile(`^(RC|BN|IT)?\d{1,8}$`)
)

// Normalize strips separators and whitespace so equal identities compare
// equal regardless of how the submitting form spelled them. CAC prefixes
// are uppercased.
func Normalize(number string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '/', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(number))
	return strings.ToUpper(cleaned)
}

// ValidateNumber checks a normalized identity number against its type's
// format. NIN and BVN are 11-digit numbers; CAC accepts RC/BN/IT-prefixed
// registration numbers.
func ValidateNumber(number string, identityType IdentityType) error {
	switch identityType {
	case TypeNIN:
		if !elevenDigits.MatchString(number) {
			return dErrors.New(dErrors.CodeInvalidInput, "NIN must be exactly 11 digits")
		}
	case TypeBVN:
		if !elevenDigits.MatchString(number) {
			return dErrors.New(dErrors.CodeInvalidInput, "BVN must be exactly 11 digits")
		}
	case TypeCAC:
		if !cacNumber.MatchString(number) {
			return dErrors.New(dErrors.CodeInvalidInput, "CAC number format is invalid")
		}
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown identity type: %s", identityType)
	}
	return nil
}

// Mask keeps the first four characters for audit trails; the remainder is
// redacted. Raw identity numbers must never be logged.
func Mask(number string) string {
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return number[:4] + strings.Repeat("*", len(number)-4)
}
