// Package hasher computes the keyed security hash that binds a card's identity
// fields and expiry date to the engine secret.
//
// The hash is HMAC-SHA256 over "memberID|membershipNumber|YYYY-MM-DD" keyed with
// a 32-byte key derived from the configured secret through HKDF-SHA256. There is
// no salt: two processes configured with the same secret produce identical
// hashes, so a card minted by one instance verifies on any other. Rotating the
// secret invalidates every card issued under the previous one.
package hasher

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"memberpass/internal/card/models"
	dErrors "memberpass/pkg/domain-errors"
)

const (
	fieldSeparator = "|"
	keyInfo        = "memberpass/card-security-hash/v1"
	keySize        = 32
)

// ErrEmptySecret is returned when the hasher is constructed without a secret.
var ErrEmptySecret = errors.New("hasher: secret is required")

// Hasher is immutable after construction and safe for concurrent use.
type Hasher struct {
	key []byte
}

// New derives the HMAC key from secret.
func New(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("hasher: derive key: %w", err)
	}
	return &Hasher{key: key}, nil
}

// Compute returns the lowercase hex security hash for the given card fields.
// It fails with CodeInvalidInput when a field is empty, contains the field
// separator, or the expiry date is the zero time.
func (h *Hasher) Compute(memberID, membershipNumber string, expiry time.Time) (string, error) {
	msg, err := canonical(memberID, membershipNumber, expiry)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ComputeMember hashes the identity fields of a member snapshot.
func (h *Hasher) ComputeMember(m models.Member) (string, error) {
	return h.Compute(m.ID.String(), m.MembershipNumber, m.MembershipExpiry)
}

// Equal compares two hashes in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func canonical(memberID, membershipNumber string, expiry time.Time) (string, error) {
	if memberID == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "member_id is required")
	}
	if membershipNumber == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "membership_number is required")
	}
	if strings.Contains(memberID, fieldSeparator) || strings.Contains(membershipNumber, fieldSeparator) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "hash fields must not contain '|'")
	}
	if expiry.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "expiry_date is required")
	}
	return memberID + fieldSeparator + membershipNumber + fieldSeparator + models.DateOf(expiry).Format(models.DateLayout), nil
}
