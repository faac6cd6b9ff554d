// Package issuer mints membership cards: it reads the member, binds identity
// and expiry with the security hash, and encodes the QR payload. It does not
// persist cards; see the card service for that.
package issuer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"memberpass/internal/card/codec"
	"memberpass/internal/card/hasher"
	"memberpass/internal/card/metrics"
	"memberpass/internal/card/models"
	"memberpass/internal/card/ports"
	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
	"memberpass/pkg/platform/sentinel"
)

const (
	defaultBulkConcurrency = 8
	DefaultLookupTimeout   = 2 * time.Second
)

// Issuer is safe for concurrent use.
type Issuer struct {
	members         ports.MemberLookup
	hasher          *hasher.Hasher
	clock           func() time.Time
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	bulkConcurrency int
	lookupTimeout   time.Duration
}

type Option func(*Issuer)

func WithClock(clock func() time.Time) Option {
	return func(i *Issuer) {
		if clock != nil {
			i.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

// WithBulkConcurrency bounds how many members BulkIssue processes at once.
func WithBulkConcurrency(n int) Option {
	return func(i *Issuer) {
		if n > 0 {
			i.bulkConcurrency = n
		}
	}
}

// WithLookupTimeout bounds each member store call.
func WithLookupTimeout(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.lookupTimeout = d
		}
	}
}

func New(members ports.MemberLookup, h *hasher.Hasher, opts ...Option) (*Issuer, error) {
	if members == nil {
		return nil, errors.New("member lookup is required")
	}
	if h == nil {
		return nil, errors.New("hasher is required")
	}
	i := &Issuer{
		members:         members,
		hasher:          h,
		clock:           time.Now,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:          otel.Tracer("memberpass/issuer"),
		bulkConcurrency: defaultBulkConcurrency,
		lookupTimeout:   DefaultLookupTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// Issue builds a card for memberID and returns it with its encoded QR payload.
// Errors carry CodeInvalidInput, CodeMemberNotFound, CodeAlreadyExpired,
// CodeLookupTimeout or CodeUnavailable.
func (i *Issuer) Issue(ctx context.Context, memberID id.MemberID, templateID id.TemplateID) (*models.Card, string, error) {
	ctx, span := i.tracer.Start(ctx, "issuer.issue",
		trace.WithAttributes(
			attribute.String("member.id", memberID.String()),
			attribute.String("template.id", templateID.String()),
		),
	)
	defer span.End()

	card, payload, err := i.issue(ctx, memberID, templateID)
	if err != nil {
		code := dErrors.CodeOf(err)
		i.metrics.IncrementIssueOutcome(string(code))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		i.logger.InfoContext(ctx, "card issuance refused",
			"member_id", memberID.String(),
			"code", string(code),
			"error", err,
		)
		return nil, "", err
	}

	i.metrics.IncrementIssueOutcome("ok")
	span.SetAttributes(
		attribute.String("card.id", card.ID.String()),
		attribute.String("card.number", card.Number),
	)
	i.logger.InfoContext(ctx, "card issued",
		"member_id", memberID.String(),
		"card_id", card.ID.String(),
		"card_number", card.Number,
		"template_id", templateID.String(),
	)
	return card, payload, nil
}

func (i *Issuer) issue(ctx context.Context, memberID id.MemberID, templateID id.TemplateID) (*models.Card, string, error) {
	if memberID.IsZero() {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "member_id is required")
	}
	if templateID.IsZero() {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "template_id is required")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, i.lookupTimeout)
	member, found, err := i.members.Get(lookupCtx, memberID)
	cancel()
	if err != nil {
		if sentinel.IsTimeout(err) {
			return nil, "", dErrors.Wrap(err, dErrors.CodeLookupTimeout, "member lookup timed out")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeUnavailable, "member lookup failed")
	}
	if !found {
		return nil, "", dErrors.New(dErrors.CodeMemberNotFound, "member not found")
	}

	now := i.clock()
	if models.ExpiredAt(member.MembershipExpiry, now) {
		return nil, "", dErrors.New(dErrors.CodeAlreadyExpired, "membership expired on "+models.DateOf(member.MembershipExpiry).Format(models.DateLayout))
	}

	hash, err := i.hasher.ComputeMember(member)
	if err != nil {
		return nil, "", err
	}
	number, err := models.DeriveCardNumber(member.MembershipNumber)
	if err != nil {
		return nil, "", err
	}

	card := &models.Card{
		ID:               id.NewCardID(),
		Number:           number,
		MemberID:         member.ID,
		MembershipNumber: member.MembershipNumber,
		IssueDate:        models.DateOf(now),
		ExpiryDate:       models.DateOf(member.MembershipExpiry),
		TemplateID:       templateID,
		SecurityHash:     hash,
		Status:           models.CardStatusActive,
	}
	payload, err := codec.Encode(card.Payload())
	if err != nil {
		return nil, "", err
	}
	return card, payload, nil
}

// BulkIssue issues one card per member ID. Results keep the input order and a
// failure for one member never stops the others. Members are processed
// concurrently, at most bulkConcurrency at a time.
func (i *Issuer) BulkIssue(ctx context.Context, memberIDs []id.MemberID, templateID id.TemplateID) []models.IssueResult {
	ctx, span := i.tracer.Start(ctx, "issuer.bulk_issue",
		trace.WithAttributes(
			attribute.Int("members.count", len(memberIDs)),
			attribute.String("template.id", templateID.String()),
		),
	)
	defer span.End()

	results := make([]models.IssueResult, len(memberIDs))
	g := new(errgroup.Group)
	g.SetLimit(i.bulkConcurrency)
	for idx, memberID := range memberIDs {
		results[idx].MemberID = memberID
		if err := ctx.Err(); err != nil {
			results[idx].Err = err
			continue
		}
		g.Go(func() error {
			card, payload, err := i.Issue(ctx, memberID, templateID)
			results[idx].Card = card
			results[idx].Payload = payload
			results[idx].Err = err
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("members.failed", failed))
	i.logger.InfoContext(ctx, "bulk issuance finished",
		"requested", len(memberIDs),
		"issued", len(memberIDs)-failed,
		"failed", failed,
	)
	return results
}
