package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

type ServicesRepository interface {
	Get(ctx context.Context, ownerID, id string) (*model.Service, error)
	// FindByName is an exact, case-sensitive lookup; the oldest row wins on duplicates.
	FindByName(ctx context.Context, ownerID, name string) (*model.Service, error)
	Insert(ctx context.Context, s model.Service) error
}

type ServicesRepositoryImpl struct {
	db *sqlx.DB
}

func NewServicesRepository(db *sqlx.DB) *ServicesRepositoryImpl {
	return &ServicesRepositoryImpl{db: db}
}

var _ ServicesRepository = (*ServicesRepositoryImpl)(nil)

const serviceColumns = `id, owner_id, name, price, created_at, updated_at`

func (r *ServicesRepositoryImpl) Get(ctx context.Context, ownerID, id string) (*model.Service, error) {
	return r.getOne(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = ? AND owner_id = ? LIMIT 1`, id, ownerID)
}

func (r *ServicesRepositoryImpl) FindByName(ctx context.Context, ownerID, name string) (*model.Service, error) {
	return r.getOne(ctx, `
		SELECT `+serviceColumns+`
		  FROM services
		 WHERE owner_id = ? AND name = BINARY ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1
	`, ownerID, name)
}

func (r *ServicesRepositoryImpl) getOne(ctx context.Context, q string, args ...any) (*model.Service, error) {
	var s model.Service
	err := r.db.GetContext(ctx, &s, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ServicesRepositoryImpl) Insert(ctx context.Context, s model.Service) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`)
		VALUES (:id, :owner_id, :name, :price, :created_at, :updated_at)
		ON DUPLICATE KEY UPDATE id = id
	`, s)
	return err
}
