// Package mutation adapts member change feeds to ports.MutationSource.
//
// Producers publish either the bare member ID or a JSON object
// {"member_id": "..."}; anything else is logged and skipped.
package mutation

import (
	"bytes"
	"encoding/json"
	"fmt"

	id "memberpass/pkg/domain"
)

// Event is the JSON form of a member change notification.
type Event struct {
	MemberID string `json:"member_id"`
	Kind     string `json:"kind,omitempty"`
}

// ParseMemberID extracts the changed member ID from a notification payload.
func ParseMemberID(payload []byte) (id.MemberID, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var ev Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return "", fmt.Errorf("decode member change event: %w", err)
		}
		return id.ParseMemberID(ev.MemberID)
	}
	return id.ParseMemberID(string(trimmed))
}
