package handler

import (
	"time"

	"memberpass/internal/card/cache"
	"memberpass/internal/card/models"
	dErrors "memberpass/pkg/domain-errors"
	audit "memberpass/pkg/platform/audit"
)

// CardResponse is the HTTP view of a stored card.
type CardResponse struct {
	CardID           string `json:"card_id"`
	CardNumber       string `json:"card_number"`
	MemberID         string `json:"member_id"`
	MembershipNumber string `json:"membership_number"`
	IssueDate        string `json:"issue_date"`
	ExpiryDate       string `json:"expiry_date"`
	TemplateID       string `json:"template_id"`
	Status           string `json:"status"`
}

func toCardResponse(c *models.Card, now time.Time) *CardResponse {
	if c == nil {
		return nil
	}
	return &CardResponse{
		CardID:           c.ID.String(),
		CardNumber:       c.Number,
		MemberID:         c.MemberID.String(),
		MembershipNumber: c.MembershipNumber,
		IssueDate:        c.IssueDate.Format(models.DateLayout),
		ExpiryDate:       c.ExpiryDate.Format(models.DateLayout),
		TemplateID:       c.TemplateID.String(),
		Status:           string(c.StatusAt(now)),
	}
}

// IssueCardResponse carries the card and the payload to embed in its QR code.
type IssueCardResponse struct {
	Card    *CardResponse `json:"card"`
	Payload string        `json:"payload"`
}

// BulkIssueItem is one positional entry of a bulk issuance reply.
type BulkIssueItem struct {
	MemberID         string        `json:"member_id"`
	Card             *CardResponse `json:"card,omitempty"`
	Payload          string        `json:"payload,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorDescription string        `json:"error_description,omitempty"`
}

type BulkIssueResponse struct {
	Results []BulkIssueItem `json:"results"`
	Issued  int             `json:"issued"`
	Failed  int             `json:"failed"`
}

func toBulkIssueResponse(results []models.IssueResult, now time.Time) BulkIssueResponse {
	resp := BulkIssueResponse{Results: make([]BulkIssueItem, len(results))}
	for i, r := range results {
		item := BulkIssueItem{MemberID: r.MemberID.String()}
		if r.Err != nil {
			code := dErrors.CodeOf(r.Err)
			item.Error = string(code)
			if code != dErrors.CodeInternal {
				item.ErrorDescription = dErrors.MessageOf(r.Err)
			}
			resp.Failed++
		} else {
			item.Card = toCardResponse(r.Card, now)
			item.Payload = r.Payload
			resp.Issued++
		}
		resp.Results[i] = item
	}
	return resp
}

// MemberSummary is the member detail shown to a verifying operator. The
// national identifier is never returned.
type MemberSummary struct {
	MemberID         string `json:"member_id"`
	MembershipNumber string `json:"membership_number"`
	FullName         string `json:"full_name"`
	Region           string `json:"region,omitempty"`
	District         string `json:"district,omitempty"`
	Branch           string `json:"branch,omitempty"`
	MembershipExpiry string `json:"membership_expiry"`
}

// VerificationResponse is returned for every verification, valid or not.
type VerificationResponse struct {
	Valid     bool           `json:"valid"`
	Reason    string         `json:"reason"`
	Message   string         `json:"message"`
	Member    *MemberSummary `json:"member,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

func toVerificationResponse(r models.VerificationResult) VerificationResponse {
	resp := VerificationResponse{
		Valid:     r.Valid,
		Reason:    r.Reason.String(),
		Message:   r.Reason.Message(),
		CheckedAt: r.CheckedAt.UTC(),
	}
	if r.Valid && r.Member != nil {
		resp.Member = &MemberSummary{
			MemberID:         r.Member.ID.String(),
			MembershipNumber: r.Member.MembershipNumber,
			FullName:         r.Member.FullName,
			Region:           r.Member.Region,
			District:         r.Member.District,
			Branch:           r.Member.Branch,
			MembershipExpiry: models.DateOf(r.Member.MembershipExpiry).Format(models.DateLayout),
		}
	}
	return resp
}

type WarmResponse struct {
	Requested int `json:"requested"`
	Loaded    int `json:"loaded"`
	Cached    int `json:"cached"`
	Failed    int `json:"failed"`
}

func toWarmResponse(r cache.WarmReport) WarmResponse {
	return WarmResponse{Requested: r.Requested, Loaded: r.Loaded, Cached: r.Cached, Failed: r.Failed}
}

type AuditEventResponse struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Timestamp  string `json:"timestamp"`
	ActorID    string `json:"actor_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	MemberID   string `json:"member_id,omitempty"`
	CardID     string `json:"card_id,omitempty"`
	CardNumber string `json:"card_number,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type AuditListResponse struct {
	Events []AuditEventResponse `json:"events"`
}

func toAuditListResponse(events []audit.Event) AuditListResponse {
	out := AuditListResponse{Events: make([]AuditEventResponse, len(events))}
	for i, e := range events {
		out.Events[i] = AuditEventResponse{
			ID:         e.ID.String(),
			Action:     e.Action.String(),
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
			ActorID:    e.ActorID,
			RequestID:  e.RequestID,
			MemberID:   e.MemberID.String(),
			CardID:     e.CardID,
			CardNumber: e.CardNumber,
			Detail:     e.Detail,
		}
	}
	return out
}
