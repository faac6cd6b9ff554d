// Package ports defines the collaborator interfaces the card engine depends on.
// Adapters live under internal/card/store; tests use the gomock doubles in mocks/.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"memberpass/internal/card/models"
	id "memberpass/pkg/domain"
)

// MemberLookup reads member snapshots from the system of record.
// A missing member is reported as found=false with a nil error.
type MemberLookup interface {
	Get(ctx context.Context, memberID id.MemberID) (models.Member, bool, error)
}

// MemberLister enumerates members worth pre-loading into the verification cache.
type MemberLister interface {
	ListActiveMemberIDs(ctx context.Context, limit int) ([]id.MemberID, error)
}

// MutationSource streams the IDs of members whose records changed.
// The channel is closed when ctx is cancelled or the source fails.
type MutationSource interface {
	Subscribe(ctx context.Context) (<-chan id.MemberID, error)
}

// CardStore persists issued cards.
type CardStore interface {
	Save(ctx context.Context, card models.Card) error
	FindByID(ctx context.Context, cardID id.CardID) (models.Card, error)
}

// RevocationChecker answers whether a card number has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, cardNumber string) (bool, error)
}

// Renderer turns an encoded payload and its card into an image.
type Renderer interface {
	Render(ctx context.Context, card models.Card, payload string) ([]byte, error)
}
