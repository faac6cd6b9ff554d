package models

import (
	"strings"

	dErrors "memberpass/pkg/domain-errors"
)

const (
	cardNumberPrefix = "MC-"
	base36Alphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// DeriveCardNumber maps a membership number to its printed card number:
// "MC-" + the membership number + "-" + a Luhn mod 36 check character over its
// alphanumerics. The membership number is carried verbatim, so distinct
// membership numbers never share a card number and revocation can be keyed on
// it. Only upper-case letters, digits and interior hyphens are accepted.
func DeriveCardNumber(membershipNumber string) (string, error) {
	if !validCardBody(membershipNumber) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "membership number must be upper-case letters, digits and interior hyphens")
	}
	var b strings.Builder
	b.Grow(len(cardNumberPrefix) + len(membershipNumber) + 2)
	b.WriteString(cardNumberPrefix)
	b.WriteString(membershipNumber)
	b.WriteByte('-')
	b.WriteByte(luhnMod36(membershipNumber))
	return b.String(), nil
}

// ValidCardNumber reports whether s is well formed and its check character matches.
func ValidCardNumber(s string) bool {
	if !strings.HasPrefix(s, cardNumberPrefix) || len(s) < len(cardNumberPrefix)+3 {
		return false
	}
	rest := s[len(cardNumberPrefix):]
	if rest[len(rest)-2] != '-' {
		return false
	}
	body := rest[:len(rest)-2]
	if !validCardBody(body) {
		return false
	}
	return luhnMod36(body) == rest[len(rest)-1]
}

func validCardBody(s string) bool {
	if s == "" || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// luhnMod36 computes the Luhn mod N check character over the alphanumerics
// of body. Hyphens are skipped.
func luhnMod36(body string) byte {
	const n = len(base36Alphabet)
	factor, sum := 2, 0
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] == '-' {
			continue
		}
		addend := factor * strings.IndexByte(base36Alphabet, body[i])
		if factor == 2 {
			factor = 1
		} else {
			factor = 2
		}
		sum += addend/n + addend%n
	}
	return base36Alphabet[(n-sum%n)%n]
}
