package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

// UsersRepository resolves clinic users, who own every other row.
type UsersRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.User, error)
	Upsert(ctx context.Context, u model.User) error
}

type UsersRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepositoryImpl {
	return &UsersRepositoryImpl{db: db}
}

var _ UsersRepository = (*UsersRepositoryImpl)(nil)

// GetByAPIKey returns (nil, nil) when no user holds the key.
func (r *UsersRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `
		SELECT id, email, api_key, status, created_at, updated_at
		  FROM users
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Upsert is keyed by email and used by the seed command.
func (r *UsersRepositoryImpl) Upsert(ctx context.Context, u model.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, api_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    api_key    = VALUES(api_key),
		    status     = VALUES(status),
		    updated_at = VALUES(updated_at)
	`, u.ID, u.Email, u.APIKey, u.Status, u.CreatedAt, u.UpdatedAt)
	return err
}
