package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"memberpass/internal/card/models"
	id "memberpass/pkg/domain"
	"memberpass/pkg/platform/tx"
)

const memberColumns = `member_id, membership_number, full_name, national_id, region, district, branch, membership_expiry`

// PostgresStore reads members from the system-of-record table. The engine
// never writes members outside of Upsert, which exists for seeding and tests.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, memberID id.MemberID) (models.Member, bool, error) {
	row := tx.Or(ctx, s.db).QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE member_id = $1`, memberID.String())
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Member{}, false, nil
		}
		return models.Member{}, false, fmt.Errorf("get member: %w", err)
	}
	return m, true, nil
}

// GetMany loads several members in one round trip. Missing IDs are absent
// from the result map.
func (s *PostgresStore) GetMany(ctx context.Context, memberIDs []id.MemberID) (map[id.MemberID]models.Member, error) {
	if len(memberIDs) == 0 {
		return map[id.MemberID]models.Member{}, nil
	}
	raw := make([]string, len(memberIDs))
	for i, m := range memberIDs {
		raw[i] = m.String()
	}
	rows, err := tx.Or(ctx, s.db).QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE member_id = ANY($1::text[])`,
		pq.Array(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("get members: %w", err)
	}
	defer rows.Close()

	out := make(map[id.MemberID]models.Member, len(memberIDs))
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

// ListActiveMemberIDs returns up to limit unexpired members, most recently
// renewed first. These are the members most likely to present cards soon.
func (s *PostgresStore) ListActiveMemberIDs(ctx context.Context, limit int) ([]id.MemberID, error) {
	rows, err := tx.Or(ctx, s.db).QueryContext(ctx, `
		SELECT member_id
		FROM members
		WHERE membership_expiry >= CURRENT_DATE
		ORDER BY updated_at DESC, member_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	defer rows.Close()

	ids := make([]id.MemberID, 0, limit)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id.MemberID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member ids: %w", err)
	}
	return ids, nil
}

// Upsert writes a member record and bumps its updated_at.
func (s *PostgresStore) Upsert(ctx context.Context, m models.Member) error {
	_, err := tx.Or(ctx, s.db).ExecContext(ctx, `
		INSERT INTO members (`+memberColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (member_id) DO UPDATE SET
			membership_number = EXCLUDED.membership_number,
			full_name = EXCLUDED.full_name,
			national_id = EXCLUDED.national_id,
			region = EXCLUDED.region,
			district = EXCLUDED.district,
			branch = EXCLUDED.branch,
			membership_expiry = EXCLUDED.membership_expiry,
			updated_at = now()
	`,
		m.ID.String(),
		m.MembershipNumber,
		m.FullName,
		m.NationalID,
		m.Region,
		m.District,
		m.Branch,
		models.DateOf(m.MembershipExpiry),
	)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (models.Member, error) {
	var (
		m        models.Member
		memberID string
	)
	if err := row.Scan(
		&memberID,
		&m.MembershipNumber,
		&m.FullName,
		&m.NationalID,
		&m.Region,
		&m.District,
		&m.Branch,
		&m.MembershipExpiry,
	); err != nil {
		return models.Member{}, err
	}
	m.ID = id.MemberID(memberID)
	m.MembershipExpiry = models.DateOf(m.MembershipExpiry)
	return m, nil
}
