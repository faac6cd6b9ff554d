package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiredAt(t *testing.T) {
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("valid through the whole expiry day", func(t *testing.T) {
		assert.False(t, ExpiredAt(expiry, time.Date(2026, 1, 1, 23, 59, 59, 0, time.UTC)))
	})

	t.Run("expired the day after", func(t *testing.T) {
		assert.True(t, ExpiredAt(expiry, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("compares UTC dates regardless of zone", func(t *testing.T) {
		zone := time.FixedZone("UTC+3", 3*60*60)
		// 2026-01-02 01:00 at UTC+3 is still 2026-01-01 in UTC.
		assert.False(t, ExpiredAt(expiry, time.Date(2026, 1, 2, 1, 0, 0, 0, zone)))
	})
}

func TestCardStatusAt(t *testing.T) {
	card := Card{
		ExpiryDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:     CardStatusActive,
	}
	assert.Equal(t, CardStatusActive, card.StatusAt(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, CardStatusExpired, card.StatusAt(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))

	card.Status = CardStatusRevoked
	assert.Equal(t, CardStatusRevoked, card.StatusAt(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
}

func TestVerificationResultConstructors(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rejected := Reject(ReasonRevoked, at)
	assert.False(t, rejected.Valid)
	assert.Nil(t, rejected.Member)
	assert.Equal(t, ReasonRevoked, rejected.Reason)

	member := Member{ID: "M1", MembershipNumber: "MEM000123"}
	accepted := Accept(member, at)
	assert.True(t, accepted.Valid)
	assert.Equal(t, ReasonOK, accepted.Reason)
	if assert.NotNil(t, accepted.Member) {
		assert.Equal(t, member, *accepted.Member)
	}

	for _, r := range AllReasons {
		assert.NotEqual(t, "Unknown verification outcome", r.Message(), r)
	}
}
