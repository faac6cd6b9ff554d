// Package revocation stores the card numbers an administrator has revoked.
// All adapters implement ports.RevocationChecker plus Revoke.
package revocation

import (
	"time"

	"memberpass/internal/card/models"
	dErrors "memberpass/pkg/domain-errors"
)

// Clock returns the current time.
type Clock func() time.Time

func validateCardNumber(cardNumber string) error {
	if !models.ValidCardNumber(cardNumber) {
		return dErrors.New(dErrors.CodeInvalidInput, "card number is malformed")
	}
	return nil
}
