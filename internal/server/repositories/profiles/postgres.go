package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mivanovs/telegate/internal/common"
	"github.com/mivanovs/telegate/internal/dbx"
	"github.com/mivanovs/telegate/internal/server/models"
)

const profileColumns = `id, user_id, phone, pending_challenge, is_authorized, is_active,
	 first_name, last_name, username, photo_id, created_at, last_login`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanProfile(row *sql.Row) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(&p.ID, &p.UserID, &p.Phone, &p.PendingChallenge, &p.IsAuthorized, &p.IsActive,
		&p.FirstName, &p.LastName, &p.Username, &p.PhotoID, &p.CreatedAt, &p.LastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {

	query :=
		`INSERT INTO profiles (user_id, phone, is_authorized)
         VALUES ($1, $2, $3)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		profile.UserID, profile.Phone, profile.IsAuthorized).Scan(&profile.ID, &profile.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	profile.IsActive = true

	return profile, nil
}

func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles
		 WHERE phone = $1
		 `
	return scanProfile(r.db.QueryRowContext(ctx, query, phone))
}

func (r *PostgresRepository) GetByUserAndPhone(ctx context.Context, userID int64, phone string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles
		 WHERE user_id = $1 AND phone = $2
		 `
	return scanProfile(r.db.QueryRowContext(ctx, query, userID, phone))
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles
		 WHERE user_id = $1
		 ORDER BY id
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Profile
	for rows.Next() {
		p := &models.Profile{}
		err := rows.Scan(&p.ID, &p.UserID, &p.Phone, &p.PendingChallenge, &p.IsAuthorized, &p.IsActive,
			&p.FirstName, &p.LastName, &p.Username, &p.PhotoID, &p.CreatedAt, &p.LastLogin)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) Update(ctx context.Context, profile *models.Profile) error {
	query :=
		`UPDATE profiles
		 SET pending_challenge = $2, is_authorized = $3, is_active = $4,
		     first_name = $5, last_name = $6, username = $7, photo_id = $8
		 WHERE id = $1
		 `

	_, err := r.db.ExecContext(ctx, query, profile.ID,
		profile.PendingChallenge, profile.IsAuthorized, profile.IsActive,
		profile.FirstName, profile.LastName, profile.Username, profile.PhotoID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) SetAuthorized(ctx context.Context, id int64, authorized bool) error {
	query :=
		`UPDATE profiles SET is_authorized = $2
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id, authorized); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id int64) error {
	query :=
		`UPDATE profiles SET last_login = now()
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
