package card

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"memberpass/internal/card/models"
	id "memberpass/pkg/domain"
	"memberpass/pkg/platform/sentinel"
	"memberpass/pkg/platform/tx"
)

// PostgresStore persists issued cards in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save upserts the card keyed by its ID. Status is the only column that
// changes after issuance.
func (s *PostgresStore) Save(ctx context.Context, card models.Card) error {
	query := `
		INSERT INTO cards (id, number, member_id, membership_number, issue_date, expiry_date, template_id, security_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
	`
	_, err := tx.Or(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(card.ID),
		card.Number,
		card.MemberID.String(),
		card.MembershipNumber,
		models.DateOf(card.IssueDate),
		models.DateOf(card.ExpiryDate),
		card.TemplateID.String(),
		card.SecurityHash,
		string(card.Status),
	)
	if err != nil {
		return fmt.Errorf("save card: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, cardID id.CardID) (models.Card, error) {
	query := `
		SELECT id, number, member_id, membership_number, issue_date, expiry_date, template_id, security_hash, status
		FROM cards
		WHERE id = $1
	`
	var (
		row                          models.Card
		rawID                        uuid.UUID
		memberID, templateID, status string
	)
	err := tx.Or(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(cardID)).Scan(
		&rawID,
		&row.Number,
		&memberID,
		&row.MembershipNumber,
		&row.IssueDate,
		&row.ExpiryDate,
		&templateID,
		&row.SecurityHash,
		&status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Card{}, sentinel.ErrNotFound
		}
		return models.Card{}, fmt.Errorf("find card by id: %w", err)
	}
	row.ID = id.CardID(rawID)
	row.MemberID = id.MemberID(memberID)
	row.TemplateID = id.TemplateID(templateID)
	row.Status = models.CardStatus(status)
	row.IssueDate = models.DateOf(row.IssueDate)
	row.ExpiryDate = models.DateOf(row.ExpiryDate)
	return row, nil
}
