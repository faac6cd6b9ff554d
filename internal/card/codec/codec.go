// Package codec encodes card payloads into the compact string carried by a QR
// code and parses scanned strings back into payloads.
//
// Wire format (all segments joined by '.'):
//
//	MP1.<b64 member id>.<b64 membership number>.<YYYYMMDD>.<b64 hash bytes>
//
// b64 is unpadded URL-safe base64, so the whole string is URL and QR
// alphanumeric-mode friendly. The security hash travels as raw bytes and is
// rendered back as lowercase hex on decode.
//
// Decode only checks structure. A well-formed payload whose hash does not match
// is a verifier concern.
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"memberpass/internal/card/models"
	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
)

const (
	// Version prefixes every payload; bump it when the layout changes.
	Version = "MP1"

	// MaxEncodedLength bounds decoder input; real payloads are ~110 bytes.
	MaxEncodedLength = 512

	segmentSeparator = "."
	segmentCount     = 5
	dateLayout       = "20060102"
	maxFieldLength   = 64
)

// Strict decoding rejects non-zero trailing bits, so every payload has exactly
// one encoding.
var b64 = base64.RawURLEncoding.Strict()

// Encode serialises a payload. It rejects payloads that Decode would not accept:
// empty or oversized fields, a '|' in the membership number, an expiry that is
// not a UTC calendar date, or a hash that is not lowercase hex.
func Encode(p models.Payload) (string, error) {
	if _, err := id.ParseMemberID(p.MemberID.String()); err != nil {
		return "", err
	}
	if err := validateMembershipNumber(p.MembershipNumber); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid membership_number")
	}
	if p.ExpiryDate.IsZero() || !p.ExpiryDate.Equal(models.DateOf(p.ExpiryDate)) || p.ExpiryDate.Location() != time.UTC {
		return "", dErrors.New(dErrors.CodeInvalidInput, "expiry_date must be a UTC calendar date")
	}
	hash, err := decodeHexHash(p.SecurityHash)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid security_hash")
	}

	var b strings.Builder
	b.Grow(128)
	b.WriteString(Version)
	b.WriteString(segmentSeparator)
	b.WriteString(b64.EncodeToString([]byte(p.MemberID)))
	b.WriteString(segmentSeparator)
	b.WriteString(b64.EncodeToString([]byte(p.MembershipNumber)))
	b.WriteString(segmentSeparator)
	b.WriteString(p.ExpiryDate.Format(dateLayout))
	b.WriteString(segmentSeparator)
	b.WriteString(b64.EncodeToString(hash))
	return b.String(), nil
}

// Decode parses an encoded payload. Every structural violation is reported
// with CodeMalformedPayload.
func Decode(s string) (models.Payload, error) {
	if s == "" {
		return models.Payload{}, malformed("payload is empty")
	}
	if len(s) > MaxEncodedLength {
		return models.Payload{}, malformed("payload is too long")
	}
	parts := strings.Split(s, segmentSeparator)
	if len(parts) != segmentCount {
		return models.Payload{}, malformed("payload has wrong field count")
	}
	if parts[0] != Version {
		return models.Payload{}, malformed("unsupported payload version")
	}

	memberID, err := decodeText(parts[1])
	if err != nil {
		return models.Payload{}, malformed("member_id is not valid base64")
	}
	mid, err := id.ParseMemberID(memberID)
	if err != nil {
		return models.Payload{}, dErrors.Wrap(err, dErrors.CodeMalformedPayload, "invalid member_id")
	}

	number, err := decodeText(parts[2])
	if err != nil {
		return models.Payload{}, malformed("membership_number is not valid base64")
	}
	if err := validateMembershipNumber(number); err != nil {
		return models.Payload{}, dErrors.Wrap(err, dErrors.CodeMalformedPayload, "invalid membership_number")
	}

	if len(parts[3]) != len(dateLayout) {
		return models.Payload{}, malformed("expiry_date is not YYYYMMDD")
	}
	expiry, err := time.ParseInLocation(dateLayout, parts[3], time.UTC)
	if err != nil {
		return models.Payload{}, malformed("expiry_date is not a valid date")
	}

	if parts[4] == "" {
		return models.Payload{}, malformed("security_hash is empty")
	}
	hash, err := b64.DecodeString(parts[4])
	if err != nil || len(hash) == 0 {
		return models.Payload{}, malformed("security_hash is not valid base64")
	}

	return models.Payload{
		MemberID:         mid,
		MembershipNumber: number,
		ExpiryDate:       expiry,
		SecurityHash:     hex.EncodeToString(hash),
	}, nil
}

func decodeText(segment string) (string, error) {
	raw, err := b64.DecodeString(segment)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func validateMembershipNumber(s string) error {
	if s == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "membership_number is required")
	}
	if len(s) > maxFieldLength {
		return dErrors.New(dErrors.CodeInvalidInput, "membership_number is too long")
	}
	if !utf8.ValidString(s) {
		return dErrors.New(dErrors.CodeInvalidInput, "membership_number is not valid UTF-8")
	}
	for _, r := range s {
		if r == '|' || !unicode.IsPrint(r) {
			return dErrors.New(dErrors.CodeInvalidInput, "membership_number contains invalid characters")
		}
	}
	return nil
}

func decodeHexHash(s string) ([]byte, error) {
	if s == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "security_hash is required")
	}
	if s != strings.ToLower(s) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "security_hash must be lowercase hex")
	}
	return hex.DecodeString(s)
}

func malformed(msg string) error {
	return dErrors.New(dErrors.CodeMalformedPayload, msg)
}
