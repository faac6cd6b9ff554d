package postgres

import (
	"context"
	"database/sql"
	"fmt"

	id "memberpass/pkg/domain"
	audit "memberpass/pkg/platform/audit"
	"memberpass/pkg/platform/tx"
)

// Store writes audit events to card_audit_events. Append joins a transaction
// carried by the context, so an event recorded during a revocation commits or
// rolls back with it.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	_, err := tx.Or(ctx, s.db).ExecContext(ctx, `
		INSERT INTO card_audit_events (
			id, action, occurred_at, actor_id, request_id,
			member_id, card_id, card_number, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		event.ID,
		string(event.Action),
		event.Timestamp,
		event.ActorID,
		event.RequestID,
		event.MemberID.String(),
		event.CardID,
		event.CardNumber,
		event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	query := `
		SELECT id, action, occurred_at, actor_id, request_id,
		       member_id, card_id, card_number, detail
		FROM card_audit_events`
	args := []any{}
	if !filter.MemberID.IsZero() {
		query += ` WHERE member_id = $1`
		args = append(args, filter.MemberID.String())
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY occurred_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := tx.Or(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			action   string
			memberID string
		)
		if err := rows.Scan(&e.ID, &action, &e.Timestamp, &e.ActorID, &e.RequestID,
			&memberID, &e.CardID, &e.CardNumber, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = audit.Action(action)
		e.MemberID = id.MemberID(memberID)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
