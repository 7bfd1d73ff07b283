package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

// PatientsRepository is the read side the recall core needs; patient CRUD
// lives elsewhere. Insert exists for seeding.
type PatientsRepository interface {
	Get(ctx context.Context, ownerID, id string) (*model.Patient, error)
	Insert(ctx context.Context, p model.Patient) error
}

type PatientsRepositoryImpl struct {
	db *sqlx.DB
}

func NewPatientsRepository(db *sqlx.DB) *PatientsRepositoryImpl {
	return &PatientsRepositoryImpl{db: db}
}

var _ PatientsRepository = (*PatientsRepositoryImpl)(nil)

const patientColumns = `id, owner_id, first_name, last_name, phone, whatsapp_consent, whatsapp_opt_out_at, created_at, updated_at`

// Get returns (nil, nil) when the patient does not exist or belongs to another owner.
func (r *PatientsRepositoryImpl) Get(ctx context.Context, ownerID, id string) (*model.Patient, error) {
	var p model.Patient
	err := r.db.GetContext(ctx, &p,
		`SELECT `+patientColumns+` FROM patients WHERE id = ? AND owner_id = ? LIMIT 1`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PatientsRepositoryImpl) Insert(ctx context.Context, p model.Patient) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO patients (`+patientColumns+`)
		VALUES (:id, :owner_id, :first_name, :last_name, :phone, :whatsapp_consent, :whatsapp_opt_out_at, :created_at, :updated_at)
		ON DUPLICATE KEY UPDATE id = id
	`, p)
	return err
}
