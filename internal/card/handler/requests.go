package handler

import (
	"fmt"
	"strconv"
	"strings"

	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
	audit "memberpass/pkg/platform/audit"
)

const (
	// MaxBulkIssue bounds a single bulk issuance request.
	MaxBulkIssue = 5_000
	// MaxWarmIDs bounds an explicit warm list.
	MaxWarmIDs = 100_000
	// MaxAuditList bounds one page of audit events.
	MaxAuditList = 1_000
	// maxPayloadLength rejects oversized payloads before decoding.
	maxPayloadLength = 4096
)

// IssueCardRequest is the body of POST /admin/cards.
type IssueCardRequest struct {
	MemberID   string `json:"member_id"`
	TemplateID string `json:"template_id"`
}

// Parse validates the request, falling back to defaultTemplate when no
// template is named.
func (r *IssueCardRequest) Parse(defaultTemplate id.TemplateID) (id.MemberID, id.TemplateID, error) {
	memberID, err := id.ParseMemberID(strings.TrimSpace(r.MemberID))
	if err != nil {
		return "", "", err
	}
	templateID, err := parseTemplate(r.TemplateID, defaultTemplate)
	if err != nil {
		return "", "", err
	}
	return memberID, templateID, nil
}

// BulkIssueRequest is the body of POST /admin/cards/bulk.
type BulkIssueRequest struct {
	MemberIDs  []string `json:"member_ids"`
	TemplateID string   `json:"template_id"`
}

// Parse validates every member ID. One bad ID rejects the whole batch so
// result positions always line up with the submitted list.
func (r *BulkIssueRequest) Parse(defaultTemplate id.TemplateID) ([]id.MemberID, id.TemplateID, error) {
	if len(r.MemberIDs) == 0 {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "member_ids must not be empty")
	}
	if len(r.MemberIDs) > MaxBulkIssue {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("too many member_ids: max %d", MaxBulkIssue))
	}
	templateID, err := parseTemplate(r.TemplateID, defaultTemplate)
	if err != nil {
		return nil, "", err
	}
	memberIDs, err := parseMemberIDs(r.MemberIDs)
	if err != nil {
		return nil, "", err
	}
	return memberIDs, templateID, nil
}

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	Payload string `json:"payload"`
}

func (r *VerifyRequest) Validate() error {
	if strings.TrimSpace(r.Payload) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "payload is required")
	}
	if len(r.Payload) > maxPayloadLength {
		return dErrors.New(dErrors.CodeBadRequest, "payload is too long")
	}
	return nil
}

// WarmRequest is the body of POST /admin/cache/warm. Explicit member IDs win
// over the limit.
type WarmRequest struct {
	MemberIDs []string `json:"member_ids,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

func (r *WarmRequest) Parse() ([]id.MemberID, int, error) {
	if r.Limit < 0 {
		return nil, 0, dErrors.New(dErrors.CodeBadRequest, "limit must not be negative")
	}
	if len(r.MemberIDs) > MaxWarmIDs {
		return nil, 0, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("too many member_ids: max %d", MaxWarmIDs))
	}
	if len(r.MemberIDs) == 0 {
		return nil, r.Limit, nil
	}
	memberIDs, err := parseMemberIDs(r.MemberIDs)
	if err != nil {
		return nil, 0, err
	}
	return memberIDs, r.Limit, nil
}

// AuditListRequest carries the query of GET /admin/audit.
type AuditListRequest struct {
	MemberID string
	Limit    string
}

func (r *AuditListRequest) Parse() (audit.Filter, error) {
	var filter audit.Filter
	if raw := strings.TrimSpace(r.MemberID); raw != "" {
		memberID, err := id.ParseMemberID(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.MemberID = memberID
	}
	if raw := strings.TrimSpace(r.Limit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxAuditList {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("limit must be between 1 and %d", MaxAuditList))
		}
		filter.Limit = limit
	}
	return filter, nil
}

func parseTemplate(raw string, fallback id.TemplateID) (id.TemplateID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if fallback.IsZero() {
			return "", dErrors.New(dErrors.CodeInvalidInput, "template_id is required")
		}
		return fallback, nil
	}
	return id.ParseTemplateID(raw)
}

func parseMemberIDs(raw []string) ([]id.MemberID, error) {
	out := make([]id.MemberID, len(raw))
	for i, s := range raw {
		memberID, err := id.ParseMemberID(strings.TrimSpace(s))
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("member_ids[%d]: %s", i, dErrors.MessageOf(err)))
		}
		out[i] = memberID
	}
	return out, nil
}
