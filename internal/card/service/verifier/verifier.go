// Package verifier decides whether a presented card payload is genuine and
// current. Verification always recomputes the security hash over the live
// member record, so a card whose member has since been renumbered or renewed
// stops verifying as soon as the cache sees the change.
package verifier

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

	"memberpass/internal/card/codec"
	"memberpass/internal/card/hasher"
	"memberpass/internal/card/metrics"
	"memberpass/internal/card/models"
	"memberpass/internal/card/ports"
	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
)

// MemberCache is the read side of the verification cache.
type MemberCache interface {
	Get(ctx context.Context, memberID id.MemberID) (models.Member, bool, error)
}

// Verifier is safe for concurrent use.
type Verifier struct {
	cache       MemberCache
	hasher      *hasher.Hasher
	revocations ports.RevocationChecker
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Option func(*Verifier)

func WithClock(clock func() time.Time) Option {
	return func(v *Verifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithRevocationChecker enables the revocation step. Without it no card is
// considered revoked.
func WithRevocationChecker(r ports.RevocationChecker) Option {
	return func(v *Verifier) { v.revocations = r }
}

func New(cache MemberCache, h *hasher.Hasher, opts ...Option) (*Verifier, error) {
	if cache == nil {
		return nil, errors.New("member cache is required")
	}
	if h == nil {
		return nil, errors.New("hasher is required")
	}
	v := &Verifier{
		cache:  cache,
		hasher: h,
		clock:  time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("memberpass/verifier"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify checks an encoded payload. It never fails: every problem is reported
// as a result reason. Checks run in order and the first failure wins:
// decode, member lookup, hash over live data, expiry, revocation.
func (v *Verifier) Verify(ctx context.Context, encoded string) models.VerificationResult {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "verifier.verify")
	defer span.End()

	result, memberID := v.verify(ctx, encoded)

	span.SetAttributes(
		attribute.String("verification.reason", result.Reason.String()),
		attribute.Bool("verification.valid", result.Valid),
	)
	if memberID != "" {
		span.SetAttributes(attribute.String("member.id", memberID.String()))
	}
	switch result.Reason {
	case models.ReasonLookupTimeout, models.ReasonUnavailable:
		span.SetStatus(codes.Error, result.Reason.String())
	}
	v.metrics.ObserveVerification(result.Reason.String(), time.Since(start))
	return result
}

func (v *Verifier) verify(ctx context.Context, encoded string) (models.VerificationResult, id.MemberID) {
	now := v.clock()

	payload, err := codec.Decode(encoded)
	if err != nil {
		v.logger.DebugContext(ctx, "rejecting malformed payload", "error", err)
		return models.Reject(models.ReasonMalformedPayload, now), ""
	}

	member, _, err := v.cache.Get(ctx, payload.MemberID)
	if err != nil {
		reason := lookupReason(err)
		v.logger.InfoContext(ctx, "member lookup failed during verification",
			"member_id", payload.MemberID.String(),
			"reason", reason.String(),
			"error", err,
		)
		return models.Reject(reason, now), payload.MemberID
	}

	// The printed fields must agree with the live record the hash is taken over.
	if member.ID != payload.MemberID ||
		member.MembershipNumber != payload.MembershipNumber ||
		!models.DateOf(member.MembershipExpiry).Equal(payload.ExpiryDate) {
		return models.Reject(models.ReasonHashMismatch, now), payload.MemberID
	}
	live, err := v.hasher.ComputeMember(member)
	if err != nil {
		v.logger.WarnContext(ctx, "live member record cannot be hashed",
			"member_id", member.ID.String(),
			"error", err,
		)
		return models.Reject(models.ReasonHashMismatch, now), payload.MemberID
	}
	if !hasher.Equal(live, payload.SecurityHash) {
		return models.Reject(models.ReasonHashMismatch, now), payload.MemberID
	}

	if models.ExpiredAt(payload.ExpiryDate, now) || models.ExpiredAt(member.MembershipExpiry, now) {
		return models.Reject(models.ReasonExpired, now), payload.MemberID
	}

	if v.revocations != nil {
		number, err := models.DeriveCardNumber(member.MembershipNumber)
		if err != nil {
			return models.Reject(models.ReasonHashMismatch, now), payload.MemberID
		}
		revoked, err := v.revocations.IsRevoked(ctx, number)
		if err != nil {
			v.logger.ErrorContext(ctx, "revocation check failed",
				"member_id", member.ID.String(),
				"card_number", number,
				"error", err,
			)
			return models.Reject(models.ReasonUnavailable, now), payload.MemberID
		}
		if revoked {
			return models.Reject(models.ReasonRevoked, now), payload.MemberID
		}
	}

	return models.Accept(member, now), payload.MemberID
}

// lookupReason maps a cache error to a verdict. Anything that is not positive
// evidence of absence or a timeout fails closed as unavailable.
func lookupReason(err error) models.Reason {
	switch {
	case dErrors.HasCode(err, dErrors.CodeMemberNotFound):
		return models.ReasonMemberNotFound
	case dErrors.HasCode(err, dErrors.CodeLookupTimeout):
		return models.ReasonLookupTimeout
	default:
		return models.ReasonUnavailable
	}
}
