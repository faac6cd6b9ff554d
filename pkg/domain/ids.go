package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "memberpass/pkg/domain-errors"
)

// maxOpaqueIDLength bounds identifiers owned by external stores.
const maxOpaqueIDLength = 64

// MemberID identifies a member record. Its format is owned by the member
// store, so it is modelled as an opaque printable token.
type MemberID string

// TemplateID names the card template a card was issued with.
type TemplateID string

// CardID is the engine-generated card identifier. IDs are UUIDv7 so they sort
// by issuance time.
type CardID uuid.UUID

// ParseMemberID validates a member identifier at a trust boundary.
// The value must be non-empty, printable, free of the '|' and '.' field
// separators used by the hash and payload formats, and at most 64 bytes.
func ParseMemberID(s string) (MemberID, error) {
	if err := validateOpaque("member_id", s); err != nil {
		return "", err
	}
	return MemberID(s), nil
}

// String returns the member ID value.
func (m MemberID) String() string {
	return string(m)
}

// IsZero reports whether the ID is empty.
func (m MemberID) IsZero() bool {
	return m == ""
}

// ParseTemplateID validates a template identifier.
func ParseTemplateID(s string) (TemplateID, error) {
	if err := validateOpaque("template_id", s); err != nil {
		return "", err
	}
	return TemplateID(s), nil
}

func (t TemplateID) String() string {
	return string(t)
}

func (t TemplateID) IsZero() bool {
	return t == ""
}

// NewCardID allocates a time-ordered card identifier.
func NewCardID() CardID {
	return CardID(uuid.Must(uuid.NewV7()))
}

// ParseCardID parses a card ID from its canonical string form.
func ParseCardID(s string) (CardID, error) {
	if s == "" {
		return CardID{}, dErrors.New(dErrors.CodeInvalidInput, "card_id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return CardID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "card_id must be a UUID")
	}
	if parsed == uuid.Nil {
		return CardID{}, dErrors.New(dErrors.CodeInvalidInput, "card_id must not be nil")
	}
	return CardID(parsed), nil
}

func (c CardID) String() string {
	return uuid.UUID(c).String()
}

// IsNil reports whether the ID is the nil UUID.
func (c CardID) IsNil() bool {
	return uuid.UUID(c) == uuid.Nil
}

func validateOpaque(field, s string) error {
	if s == "" {
		return dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(s) > maxOpaqueIDLength {
		return dErrors.New(dErrors.CodeInvalidInput, field+" is too long")
	}
	if !utf8.ValidString(s) {
		return dErrors.New(dErrors.CodeInvalidInput, field+" is not valid UTF-8")
	}
	if strings.ContainsAny(s, "|.") {
		return dErrors.New(dErrors.CodeInvalidInput, field+" contains a reserved separator")
	}
	for _, r := range s {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return dErrors.New(dErrors.CodeInvalidInput, field+" contains non-printable characters")
		}
	}
	return nil
}
