// Package models holds the value types shared by the card engine: the member
// snapshot read from the member store, the issued card, the QR payload and the
// verification verdict.
package models

import (
	"time"

	id "memberpass/pkg/domain"
)

// DateLayout is the canonical ISO-8601 calendar date used in hashes and APIs.
const DateLayout = time.DateOnly

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ExpiredAt reports whether a membership valid through expiry has lapsed at now.
// A card stays valid for the whole of its expiry day.
func ExpiredAt(expiry, now time.Time) bool {
	return DateOf(expiry).Before(DateOf(now))
}

// Member is a read-only snapshot of a member record.
type Member struct {
	ID               id.MemberID `json:"member_id"`
	MembershipNumber string      `json:"membership_number"`
	FullName         string      `json:"full_name"`
	NationalID       string      `json:"-"`
	Region           string      `json:"region,omitempty"`
	District         string      `json:"district,omitempty"`
	Branch           string      `json:"branch,omitempty"`
	MembershipExpiry time.Time   `json:"membership_expiry"`
}

// CardStatus is the lifecycle state of an issued card.
type CardStatus string

const (
	CardStatusActive  CardStatus = "active"
	CardStatusExpired CardStatus = "expired"
	CardStatusRevoked CardStatus = "revoked"
)

// Card is an issued credential snapshot. It does not follow later member
// changes; a renewed member needs a new card.
type Card struct {
	ID       id.CardID   `json:"card_id"`
	Number   string      `json:"card_number"`
	MemberID id.MemberID `json:"member_id"`
	// MembershipNumber is kept so a stored card can re-encode its payload.
	MembershipNumber string        `json:"membership_number"`
	IssueDate        time.Time     `json:"issue_date"`
	ExpiryDate       time.Time     `json:"expiry_date"`
	TemplateID       id.TemplateID `json:"template_id"`
	SecurityHash     string        `json:"security_hash"`
	Status           CardStatus    `json:"status"`
}

// StatusAt reports the effective status at now: an active card past its expiry
// date reads as expired. Revocation is sticky.
func (c Card) StatusAt(now time.Time) CardStatus {
	if c.Status == CardStatusActive && ExpiredAt(c.ExpiryDate, now) {
		return CardStatusExpired
	}
	return c.Status
}

// Payload returns the fields carried by the card's QR code.
func (c Card) Payload() Payload {
	return Payload{
		MemberID:         c.MemberID,
		MembershipNumber: c.MembershipNumber,
		ExpiryDate:       c.ExpiryDate,
		SecurityHash:     c.SecurityHash,
	}
}

// Payload is the decoded form of the string embedded in a card's QR code.
type Payload struct {
	MemberID         id.MemberID
	MembershipNumber string
	ExpiryDate       time.Time
	SecurityHash     string
}

// IssueResult is the outcome for one member of a bulk issuance. Exactly one of
// Card and Err is set.
type IssueResult struct {
	MemberID id.MemberID
	Card     *Card
	Payload  string
	Err      error
}
