// Package handler exposes card issuance, verification and cache operations
// over HTTP.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"memberpass/internal/card/cache"
	"memberpass/internal/card/models"
	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
	audit "memberpass/pkg/platform/audit"
	"memberpass/pkg/platform/httputil"
	request "memberpass/pkg/platform/middleware/request"
	"memberpass/pkg/requestcontext"
)

// CardService issues, stores and revokes cards.
type CardService interface {
	IssueCard(ctx context.Context, memberID id.MemberID, templateID id.TemplateID) (*models.Card, string, error)
	BulkIssueCards(ctx context.Context, memberIDs []id.MemberID, templateID id.TemplateID) []models.IssueResult
	GetCard(ctx context.Context, cardID id.CardID) (*models.Card, error)
	RenderCard(ctx context.Context, cardID id.CardID) ([]byte, error)
	RevokeCard(ctx context.Context, cardID id.CardID) (*models.Card, error)
}

// Verifier checks presented payloads.
type Verifier interface {
	Verify(ctx context.Context, encoded string) models.VerificationResult
}

// CacheAdmin is the operator surface of the verification cache.
type CacheAdmin interface {
	Invalidate(memberID id.MemberID)
	Warm(ctx context.Context, memberIDs []id.MemberID) cache.WarmReport
	Len() int
}

// WarmRunner warms the cache from the member store.
type WarmRunner interface {
	RunOnce(ctx context.Context, limit int) (cache.WarmReport, error)
}

// AuditLog records operator actions and lists them back.
type AuditLog interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

type Handler struct {
	cards           CardService
	verifier        Verifier
	cache           CacheAdmin
	warmer          WarmRunner
	audit           AuditLog
	defaultTemplate id.TemplateID
	logger          *slog.Logger
}

type Option func(*Handler)

func WithDefaultTemplate(t id.TemplateID) Option {
	return func(h *Handler) { h.defaultTemplate = t }
}

// WithWarmer enables store-driven warming on POST /admin/cache/warm.
func WithWarmer(w WarmRunner) Option {
	return func(h *Handler) { h.warmer = w }
}

// WithAuditLog records cache operations and serves GET /admin/audit.
func WithAuditLog(a AuditLog) Option {
	return func(h *Handler) { h.audit = a }
}

func New(cards CardService, verifier Verifier, c CacheAdmin, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		cards:    cards,
		verifier: verifier,
		cache:    c,
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// RegisterPublic mounts the unauthenticated verification endpoints.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/v1/verify", h.HandleVerify)
	r.Get("/v1/verify/{payload}", h.HandleVerifyPath)
}

// RegisterAdmin mounts the operator endpoints. The caller applies auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/cards", h.HandleIssueCard)
	r.Post("/admin/cards/bulk", h.HandleBulkIssue)
	r.Get("/admin/cards/{card_id}", h.HandleGetCard)
	r.Get("/admin/cards/{card_id}/qr", h.HandleCardQR)
	r.Post("/admin/cards/{card_id}/revoke", h.HandleRevokeCard)
	r.Post("/admin/members/{member_id}/invalidate", h.HandleInvalidateMember)
	r.Post("/admin/cache/warm", h.HandleWarm)
	r.Get("/admin/cache", h.HandleCacheStats)
	r.Get("/admin/audit", h.HandleListAudit)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeVerification(w, r, req.Payload)
}

func (h *Handler) HandleVerifyPath(w http.ResponseWriter, r *http.Request) {
	payload := chi.URLParam(r, "payload")
	req := VerifyRequest{Payload: payload}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeVerification(w, r, payload)
}

// writeVerification answers 200 with the verdict for every definite outcome.
// Lookup timeouts and store outages answer 504 and 503 with the same body so
// scanners and proxies know to retry.
func (h *Handler) writeVerification(w http.ResponseWriter, r *http.Request, payload string) {
	ctx := r.Context()
	result := h.verifier.Verify(ctx, payload)

	status := http.StatusOK
	switch result.Reason {
	case models.ReasonLookupTimeout:
		status = http.StatusGatewayTimeout
	case models.ReasonUnavailable:
		status = http.StatusServiceUnavailable
	}
	if !result.Valid {
		h.logger.InfoContext(ctx, "card verification rejected",
			"reason", result.Reason.String(),
			"request_id", request.GetRequestID(ctx),
			"client_ip", requestcontext.ClientIP(ctx),
		)
	}
	httputil.WriteJSON(w, status, toVerificationResponse(result))
}

func (h *Handler) HandleIssueCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req IssueCardRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	memberID, templateID, err := req.Parse(h.defaultTemplate)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	card, payload, err := h.cards.IssueCard(ctx, memberID, templateID)
	if err != nil {
		h.logFailure(ctx, "card issuance failed", err, "member_id", memberID.String())
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "card issued",
		"card_id", card.ID.String(),
		"member_id", memberID.String(),
		"template_id", templateID.String(),
		"subject", requestcontext.Subject(ctx),
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusCreated, IssueCardResponse{
		Card:    toCardResponse(card, requestcontext.Now(ctx)),
		Payload: payload,
	})
}

func (h *Handler) HandleBulkIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req BulkIssueRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	memberIDs, templateID, err := req.Parse(h.defaultTemplate)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	results := h.cards.BulkIssueCards(ctx, memberIDs, templateID)
	resp := toBulkIssueResponse(results, requestcontext.Now(ctx))
	h.logger.InfoContext(ctx, "bulk card issuance completed",
		"requested", len(memberIDs),
		"issued", resp.Issued,
		"failed", resp.Failed,
		"template_id", templateID.String(),
		"subject", requestcontext.Subject(ctx),
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID, err := id.ParseCardID(chi.URLParam(r, "card_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	card, err := h.cards.GetCard(ctx, cardID)
	if err != nil {
		h.logFailure(ctx, "card lookup failed", err, "card_id", cardID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCardResponse(card, requestcontext.Now(ctx)))
}

func (h *Handler) HandleCardQR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID, err := id.ParseCardID(chi.URLParam(r, "card_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	img, err := h.cards.RenderCard(ctx, cardID)
	if err != nil {
		h.logFailure(ctx, "card render failed", err, "card_id", cardID.String())
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (h *Handler) HandleRevokeCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID, err := id.ParseCardID(chi.URLParam(r, "card_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	card, err := h.cards.RevokeCard(ctx, cardID)
	if err != nil {
		h.logFailure(ctx, "card revocation failed", err, "card_id", cardID.String())
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "card revoked via admin api",
		"card_id", card.ID.String(),
		"card_number", card.Number,
		"subject", requestcontext.Subject(ctx),
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, toCardResponse(card, requestcontext.Now(ctx)))
}

func (h *Handler) HandleInvalidateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID, err := id.ParseMemberID(chi.URLParam(r, "member_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.cache.Invalidate(memberID)
	h.record(ctx, audit.Event{Action: audit.ActionMemberInvalidated, MemberID: memberID})
	h.logger.InfoContext(ctx, "member invalidated via admin api",
		"member_id", memberID.String(),
		"subject", requestcontext.Subject(ctx),
		"request_id", request.GetRequestID(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleWarm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req WarmRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	memberIDs, limit, err := req.Parse()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var report cache.WarmReport
	switch {
	case len(memberIDs) > 0:
		report = h.cache.Warm(ctx, memberIDs)
	case h.warmer != nil:
		report, err = h.warmer.RunOnce(ctx, limit)
		if err != nil {
			h.logFailure(ctx, "cache warm failed", err)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "member store unavailable"))
			return
		}
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "member_ids is required when store warming is not configured"))
		return
	}
	h.record(ctx, audit.Event{
		Action: audit.ActionCacheWarmed,
		Detail: fmt.Sprintf("requested=%d loaded=%d cached=%d failed=%d", report.Requested, report.Loaded, report.Cached, report.Failed),
	})
	h.logger.InfoContext(ctx, "cache warm completed",
		"requested", report.Requested,
		"loaded", report.Loaded,
		"cached", report.Cached,
		"failed", report.Failed,
		"subject", requestcontext.Subject(ctx),
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, toWarmResponse(report))
}

func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"entries": h.cache.Len()})
}

func (h *Handler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "audit log is not configured"))
		return
	}
	req := AuditListRequest{
		MemberID: r.URL.Query().Get("member_id"),
		Limit:    r.URL.Query().Get("limit"),
	}
	filter, err := req.Parse()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.audit.List(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "audit listing failed", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditListResponse(events))
}

// record is best effort; the publisher logs failures.
func (h *Handler) record(ctx context.Context, event audit.Event) {
	if h.audit != nil {
		_ = h.audit.Emit(ctx, event)
	}
}

// logFailure logs server-side failures at error level and client mistakes at
// info level.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "error", err, "request_id", request.GetRequestID(ctx))
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.InfoContext(ctx, msg, attrs...)
}
