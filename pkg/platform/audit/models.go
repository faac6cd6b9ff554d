// Package audit records administrative actions on cards and the verification
// cache. Events carry who acted and the request that triggered the action so
// a revocation can be traced back to an operator.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "memberpass/pkg/domain"
)

// Action names an audited operation.
type Action string

const (
	ActionCardIssued        Action = "card_issued"
	ActionCardRevoked       Action = "card_revoked"
	ActionMemberInvalidated Action = "member_invalidated"
	ActionCacheWarmed       Action = "cache_warmed"
)

func (a Action) String() string { return string(a) }

// Event is one audited action. ID and Timestamp are filled by the publisher
// when left zero.
type Event struct {
	ID         uuid.UUID
	Action     Action
	Timestamp  time.Time
	ActorID    string
	RequestID  string
	MemberID   id.MemberID
	CardID     string
	CardNumber string
	Detail     string
}

// DefaultListLimit applies when a Filter carries no limit.
const DefaultListLimit = 100

// Filter selects events for List. A zero MemberID matches every member.
type Filter struct {
	MemberID id.MemberID
	Limit    int
}

// EffectiveLimit returns Limit, or DefaultListLimit when unset.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Store persists audit events. List returns the newest events first.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}
