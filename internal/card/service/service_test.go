package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"memberpass/internal/card/codec"
	"memberpass/internal/card/models"
	"memberpass/internal/card/ports/mocks"
	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
	audit "memberpass/pkg/platform/audit"
	"memberpass/pkg/platform/sentinel"
)

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	cards    *mocks.MockCardStore
	renderer *mocks.MockRenderer
	issuer   *stubIssuer
	revoker  *stubRevoker
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.cards = mocks.NewMockCardStore(s.ctrl)
	s.renderer = mocks.NewMockRenderer(s.ctrl)
	s.issuer = &stubIssuer{}
	s.revoker = &stubRevoker{}

	var err error
	s.service, err = New(s.issuer, s.cards, WithRenderer(s.renderer), WithRevoker(s.revoker))
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

type stubIssuer struct {
	err error
}

func (i *stubIssuer) Issue(_ context.Context, memberID id.MemberID, templateID id.TemplateID) (*models.Card, string, error) {
	if i.err != nil {
		return nil, "", i.err
	}
	if memberID == "missing" {
		return nil, "", dErrors.New(dErrors.CodeMemberNotFound, "member not found")
	}
	card := sampleCard(memberID)
	card.TemplateID = templateID
	payload, _ := codec.Encode(card.Payload())
	return &card, payload, nil
}

func (i *stubIssuer) BulkIssue(ctx context.Context, memberIDs []id.MemberID, templateID id.TemplateID) []models.IssueResult {
	results := make([]models.IssueResult, len(memberIDs))
	for n, memberID := range memberIDs {
		card, payload, err := i.Issue(ctx, memberID, templateID)
		results[n] = models.IssueResult{MemberID: memberID, Card: card, Payload: payload, Err: err}
	}
	return results
}

type stubRevoker struct {
	revoked []string
	err     error
}

func (r *stubRevoker) Revoke(_ context.Context, cardNumber string) error {
	if r.err != nil {
		return r.err
	}
	r.revoked = append(r.revoked, cardNumber)
	return nil
}

type recordingAuditor struct {
	events []audit.Event
	err    error
}

func (a *recordingAuditor) Emit(_ context.Context, event audit.Event) error {
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, event)
	return nil
}

type recordingTx struct {
	runs int
}

func (t *recordingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.runs++
	return fn(ctx)
}

func sampleCard(memberID id.MemberID) models.Card {
	return models.Card{
		ID:               id.NewCardID(),
		Number:           "MC-MEM000123-U",
		MemberID:         memberID,
		MembershipNumber: "MEM000123",
		IssueDate:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TemplateID:       "standard",
		SecurityHash:     "ab12",
		Status:           models.CardStatusActive,
	}
}

func (s *ServiceSuite) TestNew() {
	_, err := New(nil, s.cards)
	s.Error(err)
	_, err = New(s.issuer, nil)
	s.Error(err)
}

func (s *ServiceSuite) TestIssueCard() {
	ctx := context.Background()

	s.Run("stores the issued card", func() {
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c models.Card) error {
			s.Equal(id.MemberID("M1"), c.MemberID)
			return nil
		})

		card, payload, err := s.service.IssueCard(ctx, "M1", "standard")
		s.Require().NoError(err)
		s.Equal(id.MemberID("M1"), card.MemberID)
		s.NotEmpty(payload)
	})

	s.Run("issuer errors pass through without storing", func() {
		_, _, err := s.service.IssueCard(ctx, "missing", "standard")
		s.True(dErrors.HasCode(err, dErrors.CodeMemberNotFound))
	})

	s.Run("store failure is internal", func() {
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

		card, _, err := s.service.IssueCard(ctx, "M1", "standard")
		s.Nil(card)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestBulkIssueCards() {
	ctx := context.Background()
	gomock.InOrder(
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil),
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("constraint violation")),
	)

	results := s.service.BulkIssueCards(ctx, []id.MemberID{"M1", "missing", "M3"}, "standard")
	s.Require().Len(results, 3)

	s.NoError(results[0].Err)
	s.NotNil(results[0].Card)

	s.True(dErrors.HasCode(results[1].Err, dErrors.CodeMemberNotFound))

	s.True(dErrors.HasCode(results[2].Err, dErrors.CodeInternal))
	s.Nil(results[2].Card)
	s.Empty(results[2].Payload)
}

func (s *ServiceSuite) TestGetCard() {
	ctx := context.Background()
	stored := sampleCard("M1")

	s.Run("found", func() {
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)
		card, err := s.service.GetCard(ctx, stored.ID)
		s.Require().NoError(err)
		s.Equal(stored, *card)
	})

	s.Run("not found", func() {
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(models.Card{}, sentinel.ErrNotFound)
		_, err := s.service.GetCard(ctx, stored.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("nil id", func() {
		_, err := s.service.GetCard(ctx, id.CardID{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestRenderCard() {
	ctx := context.Background()
	stored := sampleCard("M1")
	stored.SecurityHash = "00ff"

	s.Run("renders the re-encoded payload", func() {
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)
		want, err := codec.Encode(stored.Payload())
		s.Require().NoError(err)
		s.renderer.EXPECT().Render(gomock.Any(), stored, want).Return([]byte("png"), nil)

		img, err := s.service.RenderCard(ctx, stored.ID)
		s.Require().NoError(err)
		s.Equal([]byte("png"), img)
	})

	s.Run("renderer failure", func() {
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)
		s.renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("encoder"))

		_, err := s.service.RenderCard(ctx, stored.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("without renderer", func() {
		svc, err := New(s.issuer, s.cards)
		s.Require().NoError(err)
		_, err = svc.RenderCard(ctx, stored.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func (s *ServiceSuite) TestRevokeCard() {
	ctx := context.Background()
	stored := sampleCard("M1")

	s.Run("revokes by card number and stores the status", func() {
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c models.Card) error {
			s.Equal(models.CardStatusRevoked, c.Status)
			return nil
		})

		card, err := s.service.RevokeCard(ctx, stored.ID)
		s.Require().NoError(err)
		s.Equal(models.CardStatusRevoked, card.Status)
		s.Equal([]string{"MC-MEM000123-U"}, s.revoker.revoked)
	})

	s.Run("runs inside the transaction runner", func() {
		tx := &recordingTx{}
		svc, err := New(s.issuer, s.cards, WithRevoker(s.revoker), WithTx(tx))
		s.Require().NoError(err)
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

		_, err = svc.RevokeCard(ctx, stored.ID)
		s.Require().NoError(err)
		s.Equal(1, tx.runs)
	})

	s.Run("status update failure surfaces from the transaction", func() {
		tx := &recordingTx{}
		svc, err := New(s.issuer, s.cards, WithRevoker(s.revoker), WithTx(tx))
		s.Require().NoError(err)
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("serialization failure"))

		card, err := svc.RevokeCard(ctx, stored.ID)
		s.Nil(card)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("revocation store failure", func() {
		s.revoker.err = errors.New("redis down")
		defer func() { s.revoker.err = nil }()
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)

		_, err := s.service.RevokeCard(ctx, stored.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func (s *ServiceSuite) TestAuditing() {
	ctx := context.Background()
	stored := sampleCard("M1")

	s.Run("issuance is recorded", func() {
		auditor := &recordingAuditor{}
		svc, err := New(s.issuer, s.cards, WithAuditor(auditor))
		s.Require().NoError(err)
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

		card, _, err := svc.IssueCard(ctx, "M1", "standard")
		s.Require().NoError(err)
		s.Require().Len(auditor.events, 1)
		s.Equal(audit.ActionCardIssued, auditor.events[0].Action)
		s.Equal(card.ID.String(), auditor.events[0].CardID)
	})

	s.Run("issuance survives an audit failure", func() {
		auditor := &recordingAuditor{err: errors.New("audit store down")}
		svc, err := New(s.issuer, s.cards, WithAuditor(auditor))
		s.Require().NoError(err)
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

		card, _, err := svc.IssueCard(ctx, "M1", "standard")
		s.Require().NoError(err)
		s.NotNil(card)
	})

	s.Run("revocation is recorded inside the transaction", func() {
		auditor := &recordingAuditor{}
		tx := &recordingTx{}
		svc, err := New(s.issuer, s.cards, WithRevoker(s.revoker), WithTx(tx), WithAuditor(auditor))
		s.Require().NoError(err)
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

		_, err = svc.RevokeCard(ctx, stored.ID)
		s.Require().NoError(err)
		s.Equal(1, tx.runs)
		s.Require().Len(auditor.events, 1)
		s.Equal(audit.ActionCardRevoked, auditor.events[0].Action)
		s.Equal("MC-MEM000123-U", auditor.events[0].CardNumber)
	})

	s.Run("revocation fails when its audit event cannot be stored", func() {
		auditor := &recordingAuditor{err: errors.New("audit store down")}
		svc, err := New(s.issuer, s.cards, WithRevoker(s.revoker), WithAuditor(auditor))
		s.Require().NoError(err)
		s.cards.EXPECT().FindByID(gomock.Any(), stored.ID).Return(stored, nil)
		s.cards.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

		card, err := svc.RevokeCard(ctx, stored.ID)
		s.Nil(card)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
