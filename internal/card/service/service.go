// Package service is the card application service used by the HTTP layer. It
// persists what the issuer mints and serves stored cards back as records or
// QR images.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"memberpass/internal/card/codec"
	"memberpass/internal/card/models"
	"memberpass/internal/card/ports"
	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
	audit "memberpass/pkg/platform/audit"
	"memberpass/pkg/platform/sentinel"
)

// Issuer mints cards without persisting them.
type Issuer interface {
	Issue(ctx context.Context, memberID id.MemberID, templateID id.TemplateID) (*models.Card, string, error)
	BulkIssue(ctx context.Context, memberIDs []id.MemberID, templateID id.TemplateID) []models.IssueResult
}

// Revoker records card revocations.
type Revoker interface {
	Revoke(ctx context.Context, cardNumber string) error
}

// Auditor records administrative card actions.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner runs fn in a unit of work. Stores that support it join the
// transaction carried by the context passed to fn.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	issuer   Issuer
	cards    ports.CardStore
	renderer ports.Renderer
	revoker  Revoker
	tx       TxRunner
	auditor  Auditor
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRenderer(r ports.Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

func WithRevoker(r Revoker) Option {
	return func(s *Service) { s.revoker = r }
}

// WithTx makes revocation and the card status update atomic when both stores
// share the runner's database.
func WithTx(tx TxRunner) Option {
	return func(s *Service) { s.tx = tx }
}

// WithAuditor records issuance and revocation. A revocation whose audit event
// cannot be stored fails.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

func New(issuer Issuer, cards ports.CardStore, opts ...Option) (*Service, error) {
	if issuer == nil {
		return nil, errors.New("issuer is required")
	}
	if cards == nil {
		return nil, errors.New("card store is required")
	}
	s := &Service{
		issuer: issuer,
		cards:  cards,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// IssueCard mints and stores a card, returning it with its encoded payload.
func (s *Service) IssueCard(ctx context.Context, memberID id.MemberID, templateID id.TemplateID) (*models.Card, string, error) {
	card, payload, err := s.issuer.Issue(ctx, memberID, templateID)
	if err != nil {
		return nil, "", err
	}
	if err := s.cards.Save(ctx, *card); err != nil {
		s.logger.ErrorContext(ctx, "failed to store issued card",
			"card_id", card.ID.String(),
			"member_id", memberID.String(),
			"error", err,
		)
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store card")
	}
	s.recordIssued(ctx, card)
	return card, payload, nil
}

// BulkIssueCards issues and stores a card per member. A card that was minted
// but could not be stored is reported as failed for that member only.
func (s *Service) BulkIssueCards(ctx context.Context, memberIDs []id.MemberID, templateID id.TemplateID) []models.IssueResult {
	results := s.issuer.BulkIssue(ctx, memberIDs, templateID)
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			continue
		}
		if err := s.cards.Save(ctx, *r.Card); err != nil {
			s.logger.ErrorContext(ctx, "failed to store bulk issued card",
				"card_id", r.Card.ID.String(),
				"member_id", r.MemberID.String(),
				"error", err,
			)
			r.Card, r.Payload = nil, ""
			r.Err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to store card")
			continue
		}
		s.recordIssued(ctx, r.Card)
	}
	return results
}

// GetCard returns a stored card.
func (s *Service) GetCard(ctx context.Context, cardID id.CardID) (*models.Card, error) {
	if cardID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "card_id is required")
	}
	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "card not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load card")
	}
	return &card, nil
}

// RenderCard re-encodes a stored card's payload and renders it as an image.
func (s *Service) RenderCard(ctx context.Context, cardID id.CardID) ([]byte, error) {
	if s.renderer == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "card rendering is not configured")
	}
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	payload, err := codec.Encode(card.Payload())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored card cannot be encoded")
	}
	img, err := s.renderer.Render(ctx, *card, payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render card")
	}
	return img, nil
}

// RevokeCard revokes a stored card by its card number and marks the stored
// record revoked. Every card sharing that number stops verifying.
func (s *Service) RevokeCard(ctx context.Context, cardID id.CardID) (*models.Card, error) {
	if s.revoker == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "card revocation is not configured")
	}
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	err = s.runInTx(ctx, func(ctx context.Context) error {
		if err := s.revoker.Revoke(ctx, card.Number); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to revoke card")
		}
		revoked := *card
		revoked.Status = models.CardStatusRevoked
		if err := s.cards.Save(ctx, revoked); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update card status")
		}
		if s.auditor != nil {
			if err := s.auditor.Emit(ctx, cardEvent(audit.ActionCardRevoked, &revoked)); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record revocation")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	card.Status = models.CardStatusRevoked
	s.logger.InfoContext(ctx, "card revoked",
		"card_id", card.ID.String(),
		"card_number", card.Number,
		"member_id", card.MemberID.String(),
	)
	return card, nil
}

// recordIssued is best effort: the card is already stored and valid.
func (s *Service) recordIssued(ctx context.Context, card *models.Card) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, cardEvent(audit.ActionCardIssued, card)); err != nil {
		s.logger.WarnContext(ctx, "failed to record card issuance",
			"card_id", card.ID.String(),
			"error", err,
		)
	}
}

func cardEvent(action audit.Action, card *models.Card) audit.Event {
	return audit.Event{
		Action:     action,
		MemberID:   card.MemberID,
		CardID:     card.ID.String(),
		CardNumber: card.Number,
		Detail:     "template=" + card.TemplateID.String(),
	}
}

func (s *Service) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(ctx, fn)
}
