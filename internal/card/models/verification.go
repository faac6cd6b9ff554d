package models

import "time"

// Reason is the closed set of verification outcomes.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonMalformedPayload Reason = "malformed_payload"
	ReasonHashMismatch     Reason = "hash_mismatch"
	ReasonExpired          Reason = "expired"
	ReasonMemberNotFound   Reason = "member_not_found"
	ReasonRevoked          Reason = "revoked"
	ReasonLookupTimeout    Reason = "lookup_timeout"
	// ReasonUnavailable covers backing-store failures that are neither a
	// timeout nor evidence of absence. Verification fails closed.
	ReasonUnavailable Reason = "unavailable"
)

// AllReasons lists every outcome, in check order.
var AllReasons = []Reason{
	ReasonOK,
	ReasonMalformedPayload,
	ReasonMemberNotFound,
	ReasonLookupTimeout,
	ReasonUnavailable,
	ReasonHashMismatch,
	ReasonExpired,
	ReasonRevoked,
}

func (r Reason) String() string {
	return string(r)
}

// Message is a short human readable explanation for public verification pages.
func (r Reason) Message() string {
	switch r {
	case ReasonOK:
		return "Card is valid"
	case ReasonMalformedPayload:
		return "Card code could not be read"
	case ReasonHashMismatch:
		return "Card details do not match our records"
	case ReasonExpired:
		return "Membership has expired"
	case ReasonMemberNotFound:
		return "Member not found"
	case ReasonRevoked:
		return "Card has been revoked"
	case ReasonLookupTimeout:
		return "Verification timed out, please retry"
	case ReasonUnavailable:
		return "Verification is temporarily unavailable"
	default:
		return "Unknown verification outcome"
	}
}

// VerificationResult is the verdict for one presented payload.
// Member is non-nil only when Valid is true.
type VerificationResult struct {
	Valid     bool
	Reason    Reason
	Member    *Member
	CheckedAt time.Time
}

// Reject builds a failed result.
func Reject(reason Reason, at time.Time) VerificationResult {
	return VerificationResult{Valid: false, Reason: reason, CheckedAt: at}
}

// Accept builds a successful result carrying a copy of the member snapshot.
func Accept(member Member, at time.Time) VerificationResult {
	m := member
	return VerificationResult{Valid: true, Reason: ReasonOK, Member: &m, CheckedAt: at}
}
