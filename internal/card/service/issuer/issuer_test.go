package issuer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"memberpass/internal/card/codec"
	"memberpass/internal/card/hasher"
	"memberpass/internal/card/metrics"
	"memberpass/internal/card/models"
	"memberpass/internal/card/ports/mocks"
	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
	"memberpass/pkg/platform/sentinel"
)

// =============================================================================
// Issuer Test Suite
// =============================================================================
// Justification for unit tests: issuance rules (expiry cut-off, hash binding,
// bulk ordering and isolation) are pure orchestration over ports and are
// cheapest to pin down with mocked member lookups.

type IssuerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	members *mocks.MockMemberLookup
	hasher  *hasher.Hasher
	metrics *metrics.Metrics
	now     time.Time
	issuer  *Issuer
}

func TestIssuerSuite(t *testing.T) {
	suite.Run(t, new(IssuerSuite))
}

func (s *IssuerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.members = mocks.NewMockMemberLookup(s.ctrl)
	h, err := hasher.New("issuer-test-secret")
	s.Require().NoError(err)
	s.hasher = h
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	s.issuer, err = New(s.members, s.hasher,
		WithClock(func() time.Time { return s.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithBulkConcurrency(4),
	)
	s.Require().NoError(err)
}

func (s *IssuerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func activeMember(memberID, number string, expiry time.Time) models.Member {
	return models.Member{
		ID:               id.MemberID(memberID),
		MembershipNumber: number,
		FullName:         "Member " + memberID,
		Region:           "Central",
		MembershipExpiry: expiry,
	}
}

// driverTimeout mimics a net.Error that timed out.
type driverTimeout struct{}

func (driverTimeout) Error() string { return "i/o timeout" }
func (driverTimeout) Timeout() bool { return true }

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *IssuerSuite) TestNew() {
	s.Run("nil member lookup returns error", func() {
		_, err := New(nil, s.hasher)
		s.Error(err)
	})

	s.Run("nil hasher returns error", func() {
		_, err := New(s.members, nil)
		s.Error(err)
	})
}

// =============================================================================
// Issue Tests
// =============================================================================

func (s *IssuerSuite) TestIssue() {
	ctx := context.Background()
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Run("issues a card whose payload verifies against the member", func() {
		member := activeMember("M1", "MEM000123", expiry)
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("M1")).Return(member, true, nil)

		card, payload, err := s.issuer.Issue(ctx, "M1", "standard")
		s.Require().NoError(err)

		s.False(card.ID.IsNil())
		s.Equal("MC-MEM000123-U", card.Number)
		s.Equal(id.MemberID("M1"), card.MemberID)
		s.Equal(id.TemplateID("standard"), card.TemplateID)
		s.Equal(models.CardStatusActive, card.Status)
		s.Equal(models.DateOf(s.now), card.IssueDate)
		s.Equal(expiry, card.ExpiryDate)

		want, err := s.hasher.Compute("M1", "MEM000123", expiry)
		s.Require().NoError(err)
		s.Equal(want, card.SecurityHash)

		decoded, err := codec.Decode(payload)
		s.Require().NoError(err)
		s.Equal(card.Payload(), decoded)
	})

	s.Run("card ids are unique and time ordered", func() {
		member := activeMember("M1", "MEM000123", expiry)
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("M1")).Return(member, true, nil).Times(2)

		first, _, err := s.issuer.Issue(ctx, "M1", "standard")
		s.Require().NoError(err)
		second, _, err := s.issuer.Issue(ctx, "M1", "standard")
		s.Require().NoError(err)

		s.NotEqual(first.ID, second.ID)
		s.Less(first.ID.String(), second.ID.String())
		s.Equal(first.Number, second.Number, "card number is derived from the membership number")
	})

	s.Run("membership expiring today is still issued", func() {
		member := activeMember("M2", "MEM2", models.DateOf(s.now))
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("M2")).Return(member, true, nil)

		_, _, err := s.issuer.Issue(ctx, "M2", "standard")
		s.NoError(err)
	})

	s.Run("membership that expired yesterday is refused", func() {
		member := activeMember("M3", "MEM3", models.DateOf(s.now).AddDate(0, 0, -1))
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("M3")).Return(member, true, nil)

		card, payload, err := s.issuer.Issue(ctx, "M3", "standard")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExpired))
		s.Nil(card)
		s.Empty(payload)
	})

	s.Run("missing member", func() {
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("ghost")).Return(models.Member{}, false, nil)

		_, _, err := s.issuer.Issue(ctx, "ghost", "standard")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeMemberNotFound))
	})

	s.Run("store timeout is not reported as missing", func() {
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("slow")).Return(models.Member{}, false, sentinel.ErrTimeout)

		_, _, err := s.issuer.Issue(ctx, "slow", "standard")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeLookupTimeout))
		s.False(dErrors.HasCode(err, dErrors.CodeMemberNotFound))
	})

	s.Run("hung store is cut off at the lookup timeout", func() {
		iss, err := New(s.members, s.hasher,
			WithClock(func() time.Time { return s.now }),
			WithLookupTimeout(50*time.Millisecond),
		)
		s.Require().NoError(err)
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("hung")).DoAndReturn(
			func(ctx context.Context, _ id.MemberID) (models.Member, bool, error) {
				<-ctx.Done()
				return models.Member{}, false, ctx.Err()
			})

		start := time.Now()
		_, _, err = iss.Issue(ctx, "hung", "standard")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeLookupTimeout))
		s.Less(time.Since(start), time.Second)
	})

	s.Run("driver timeout errors are timeouts", func() {
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("slow")).Return(models.Member{}, false, driverTimeout{})

		_, _, err := s.issuer.Issue(ctx, "slow", "standard")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeLookupTimeout))
	})

	s.Run("store failure is unavailable", func() {
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("M4")).Return(models.Member{}, false, errors.New("connection reset"))

		_, _, err := s.issuer.Issue(ctx, "M4", "standard")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("empty ids are rejected before lookup", func() {
		_, _, err := s.issuer.Issue(ctx, "", "standard")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		_, _, err = s.issuer.Issue(ctx, "M1", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("membership number unusable on a card is invalid input", func() {
		member := activeMember("M5", "a|b", expiry)
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("M5")).Return(member, true, nil)

		_, _, err := s.issuer.Issue(ctx, "M5", "standard")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.IssueOutcomes.WithLabelValues(string(dErrors.CodeAlreadyExpired))))
}

// =============================================================================
// BulkIssue Tests
// =============================================================================

func (s *IssuerSuite) TestBulkIssue() {
	ctx := context.Background()
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Run("per-item failures do not abort the batch", func() {
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("M1")).Return(activeMember("M1", "MEM1", expiry), true, nil)
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("missing")).Return(models.Member{}, false, nil)
		s.members.EXPECT().Get(gomock.Any(), id.MemberID("M3")).Return(activeMember("M3", "MEM3", expiry), true, nil)

		results := s.issuer.BulkIssue(ctx, []id.MemberID{"M1", "missing", "M3"}, "standard")
		s.Require().Len(results, 3)

		s.Equal(id.MemberID("M1"), results[0].MemberID)
		s.Require().NoError(results[0].Err)
		s.Equal(id.MemberID("M1"), results[0].Card.MemberID)
		s.NotEmpty(results[0].Payload)

		s.Equal(id.MemberID("missing"), results[1].MemberID)
		s.True(dErrors.HasCode(results[1].Err, dErrors.CodeMemberNotFound))
		s.Nil(results[1].Card)

		s.Equal(id.MemberID("M3"), results[2].MemberID)
		s.Require().NoError(results[2].Err)
		s.Equal(id.MemberID("M3"), results[2].Card.MemberID)
	})

	s.Run("order is preserved across many concurrent items", func() {
		ids := make([]id.MemberID, 50)
		for i := range ids {
			ids[i] = id.MemberID("M" + string(rune('A'+i%26)) + string(rune('a'+i/26)))
		}
		s.members.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, memberID id.MemberID) (models.Member, bool, error) {
				return activeMember(memberID.String(), "NUM"+memberID.String(), expiry), true, nil
			},
		).Times(len(ids))

		results := s.issuer.BulkIssue(ctx, ids, "standard")
		s.Require().Len(results, len(ids))
		for i, r := range results {
			s.Require().NoError(r.Err)
			s.Equal(ids[i], r.MemberID)
			s.Equal(ids[i], r.Card.MemberID)
		}
	})

	s.Run("empty template fails every item", func() {
		results := s.issuer.BulkIssue(ctx, []id.MemberID{"M1", "M2"}, "")
		s.Require().Len(results, 2)
		for _, r := range results {
			s.True(dErrors.HasCode(r.Err, dErrors.CodeInvalidInput))
		}
	})

	s.Run("cancelled context marks unscheduled items", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		results := s.issuer.BulkIssue(cancelled, []id.MemberID{"M1", "M2"}, "standard")
		s.Require().Len(results, 2)
		for _, r := range results {
			s.ErrorIs(r.Err, context.Canceled)
		}
	})

	s.Run("empty batch", func() {
		s.Empty(s.issuer.BulkIssue(ctx, nil, "standard"))
	})
}
