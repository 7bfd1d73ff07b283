package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

type AppointmentsRepository interface {
	Get(ctx context.Context, ownerID, id string) (*model.Appointment, error)
	ListBySchedule(ctx context.Context, ownerID, scheduleID string) ([]model.Appointment, error)
}

type AppointmentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAppointmentsRepository(db *sqlx.DB) *AppointmentsRepositoryImpl {
	return &AppointmentsRepositoryImpl{db: db}
}

var _ AppointmentsRepository = (*AppointmentsRepositoryImpl)(nil)

const appointmentColumns = `id, owner_id, patient_id, service_id, control_schedule_id, title, starts_at, created_at`

func (r *AppointmentsRepositoryImpl) Get(ctx context.Context, ownerID, id string) (*model.Appointment, error) {
	var a model.Appointment
	err := r.db.GetContext(ctx, &a,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ? AND owner_id = ? LIMIT 1`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AppointmentsRepositoryImpl) ListBySchedule(ctx context.Context, ownerID, scheduleID string) ([]model.Appointment, error) {
	var rows []model.Appointment
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+appointmentColumns+`
		  FROM appointments
		 WHERE owner_id = ? AND control_schedule_id = ?
		 ORDER BY starts_at ASC
	`, ownerID, scheduleID)
	return rows, err
}

// insertAppointment is shared by the control schedule repository, which must
// write the appointment in the same transaction as the schedule change.
func insertAppointment(ctx context.Context, tx *sqlx.Tx, a model.Appointment) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (:id, :owner_id, :patient_id, :service_id, :control_schedule_id, :title, :starts_at, :created_at)
	`, a)
	return err
}
