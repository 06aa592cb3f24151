package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mivanovs/telegate/internal/common"
	"github.com/mivanovs/telegate/internal/dbx"
	"github.com/mivanovs/telegate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, profileID int64, credential string) (*models.Session, error) {

	query :=
		`INSERT INTO sessions (profile_id, credential, is_active)
         VALUES ($1, $2, TRUE)
		 RETURNING id, created_at, last_used
		 `

	s := &models.Session{ProfileID: profileID, Credential: &credential, IsActive: true}
	err := r.db.QueryRowContext(ctx, query, profileID, credential).
		Scan(&s.ID, &s.CreatedAt, &s.LastUsed)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return s, nil
}

func (r *PostgresRepository) GetActiveByProfile(ctx context.Context, profileID int64) (*models.Session, error) {
	query :=
		`SELECT id, profile_id, credential, is_active, created_at, last_used FROM sessions
		 WHERE profile_id = $1 AND is_active = TRUE
		 ORDER BY id DESC
		 LIMIT 1
		 `

	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, profileID).
		Scan(&s.ID, &s.ProfileID, &s.Credential, &s.IsActive, &s.CreatedAt, &s.LastUsed)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return s, nil
}

func (r *PostgresRepository) UpdateCredential(ctx context.Context, id int64, credential string) error {
	query :=
		`UPDATE sessions SET credential = $2, last_used = now()
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id, credential); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id int64) error {
	query :=
		`UPDATE sessions SET is_active = FALSE
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
