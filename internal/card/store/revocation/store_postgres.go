package revocation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"memberpass/pkg/platform/tx"
)

// PostgresStore persists revoked card numbers in PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	clock Clock
}

type PostgresOption func(*PostgresStore)

func WithPostgresClock(clock Clock) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *PostgresStore) Revoke(ctx context.Context, cardNumber string) error {
	if err := validateCardNumber(cardNumber); err != nil {
		return err
	}
	_, err := tx.Or(ctx, s.db).ExecContext(ctx, `
		INSERT INTO card_revocations (card_number, revoked_at)
		VALUES ($1, $2)
		ON CONFLICT (card_number) DO NOTHING
	`, cardNumber, s.clock())
	if err != nil {
		return fmt.Errorf("revoke card: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsRevoked(ctx context.Context, cardNumber string) (bool, error) {
	var revoked bool
	err := tx.Or(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM card_revocations WHERE card_number = $1)`,
		cardNumber,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check card revocation: %w", err)
	}
	return revoked, nil
}

// RevokeMany revokes several card numbers with a single unnest insert.
func (s *PostgresStore) RevokeMany(ctx context.Context, cardNumbers []string) error {
	if len(cardNumbers) == 0 {
		return nil
	}
	for _, number := range cardNumbers {
		if err := validateCardNumber(number); err != nil {
			return err
		}
	}
	_, err := tx.Or(ctx, s.db).ExecContext(ctx, `
		INSERT INTO card_revocations (card_number, revoked_at)
		SELECT unnest($1::text[]), $2
		ON CONFLICT (card_number) DO NOTHING
	`, pq.Array(cardNumbers), s.clock())
	if err != nil {
		return fmt.Errorf("revoke cards batch: %w", err)
	}
	return nil
}
